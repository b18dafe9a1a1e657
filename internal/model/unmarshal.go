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
	"reflect"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// UnmarshalPlain decodes n into outPtr using the default struct-decoding
// behavior, while recording outPtr's position in pos and rejecting any field
// in n that doesn't correspond to a `yaml:"..."` tag on outPtr (plus
// extraFields, for callers that consume a few fields themselves before
// delegating here).
//
// Calling n.Decode(outPtr) directly instead would recurse infinitely if
// outPtr implements yaml.Unmarshaler, which is the whole reason this exists.
func UnmarshalPlain(n *yaml.Node, outPtr any, outPos *Pos, extraFields ...string) error {
	fields := reflect.VisibleFields(reflect.TypeOf(outPtr).Elem())

	known := make([]string, 0, len(fields)+len(extraFields))
	for _, f := range fields {
		key, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if key == "" || key == "-" {
			continue
		}
		known = append(known, key)
	}
	known = append(known, extraFields...)

	if err := rejectUnknownFields(n, known); err != nil {
		return err
	}

	// Decode into a dynamically-built type with the same fields but no
	// methods, so this doesn't recurse into outPtr's own UnmarshalYAML.
	// Fields promoted from an embedded struct are left out: they are decoded
	// through the embedded field itself.
	var own []reflect.StructField
	for _, f := range fields {
		if len(f.Index) == 1 {
			own = append(own, f)
		}
	}
	shadowType := reflect.StructOf(own)
	shadow := reflect.New(shadowType)
	if err := n.Decode(shadow.Interface()); err != nil {
		return fmt.Errorf("decoding: %w", err)
	}
	reflect.ValueOf(outPtr).Elem().Set(shadow.Elem())

	*outPos = posOf(n)
	return nil
}

func rejectUnknownFields(n *yaml.Node, known []string) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a YAML mapping, got node kind %d", n.Kind)
	}
	raw := map[string]any{}
	if err := n.Decode(raw); err != nil {
		return fmt.Errorf("decoding: %w", err)
	}

	var unknown string
	for k := range raw {
		if !slices.Contains(known, k) {
			unknown = k
			break
		}
	}
	if unknown == "" {
		return nil
	}

	pos := posOf(n)
	for _, c := range n.Content {
		if c.Value == unknown {
			pos = posOf(c)
		}
	}
	return pos.Errorf("unknown field %q; valid fields are %v", unknown, known)
}
