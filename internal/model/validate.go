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
	"errors"
	"reflect"

	"golang.org/x/exp/slices"
)

// Validator is implemented by every decoded YAML struct used in this module.
type Validator interface {
	Validate() error
}

// NotZero fails unless the boxed value val is non-zero.
func NotZero[T comparable](pos *Pos, val valWithPos[T], field string) error {
	var zero T
	if val.Val == zero {
		return pos.Errorf("field %q is required", field)
	}
	return nil
}

// NonEmptySlice fails if s has no elements.
func NonEmptySlice[T any](pos *Pos, s []T, field string) error {
	if len(s) == 0 {
		return pos.Errorf("field %q is required and must be non-empty", field)
	}
	return nil
}

// OneOf fails unless val.Val is a member of allowed.
func OneOf[T comparable](pos *Pos, val valWithPos[T], allowed []T, field string) error {
	if slices.Contains(allowed, val.Val) {
		return nil
	}
	return pos.Errorf("field %q must be one of %v, got %v", field, allowed, val.Val)
}

// ValidateUnlessNil validates v unless it's a nil pointer/interface.
func ValidateUnlessNil(v Validator) error {
	if v == nil || reflect.ValueOf(v).IsNil() {
		return nil
	}
	return v.Validate()
}

// ValidateEach validates every element of s, joining all resulting errors.
func ValidateEach[T Validator](s []T) error {
	var errs error
	for _, v := range s {
		errs = errors.Join(errs, v.Validate())
	}
	return errs
}
