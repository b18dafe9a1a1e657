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

// Package model holds small, shared building blocks for decoding and
// validating the YAML documents used by the rest of this module: release
// manifests and installed-state manifests.
package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Pos records where in a YAML document a value came from, so that validation
// errors can point the reader at the offending line. The zero value means
// "position unknown."
type Pos struct {
	Line   int
	Column int
}

func posOf(n *yaml.Node) Pos {
	return Pos{Line: n.Line, Column: n.Column}
}

// Errorf builds an error, prefixed with "at line L column C:" when the
// position is known.
func (p *Pos) Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	if p == nil || *p == (Pos{}) {
		return err
	}
	return fmt.Errorf("at line %d column %d: %w", p.Line, p.Column, err)
}
