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

// Package model provides terse constructors for this module's
// position-tracked scalar types, for use in table-driven test literals.
package model

import "github.com/abcxyz/toolchaindist/internal/model"

// Str wraps a plain string in a model.Str, with a zero Pos.
func Str(s string) model.Str {
	return model.Str{Val: s}
}

// Bool wraps a plain bool in a model.Bool, with a zero Pos.
func Bool(b bool) model.Bool {
	return model.Bool{Val: b}
}
