// Copyright 2024 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Str is a string field together with the position it was decoded from.
type Str = valWithPos[string]

// Bool is a boolean field together with the position it was decoded from.
type Bool = valWithPos[bool]

type valWithPos[T any] struct {
	Val T
	Pos Pos
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *valWithPos[T]) UnmarshalYAML(n *yaml.Node) error {
	if err := n.Decode(&v.Val); err != nil {
		return fmt.Errorf("decoding value: %w", err)
	}
	v.Pos = posOf(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler, emitting only Val.
func (v valWithPos[T]) MarshalYAML() (any, error) {
	return v.Val, nil
}
