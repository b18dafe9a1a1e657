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

// Package prefix defines the Prefix value object: an installation root plus
// the conventions for resolving paths safely within it.
package prefix

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsafeRelPath is returned when a caller-supplied relative path would
// escape the prefix (contains ".." or is absolute). Every caller in this
// module is expected to only ever pass paths it computed itself from trusted
// manifest data, so triggering this in production indicates a bug, not a
// user-input problem.
var ErrUnsafeRelPath = errors.New("unsafe relative path")

// MetadataDirName is the default name of the subdirectory, relative to a
// prefix's root, where installer bookkeeping files live. Exposed as a
// variable, not a hardcoded literal, so callers may relocate it.
var MetadataDirName = ".toolchaindist"

// Prefix is an immutable installation root.
type Prefix struct {
	// Root is the absolute or caller-relative path to the installation root.
	Root string
	// MetadataDir is the subdirectory (relative to Root) holding registry,
	// component-manifest, and sentinel files.
	MetadataDir string
}

// New returns a Prefix rooted at root, using the default metadata directory
// name.
func New(root string) Prefix {
	return Prefix{Root: root, MetadataDir: MetadataDirName}
}

// SafeJoin resolves rel against the prefix root, rejecting any rel that
// contains a ".." traversal segment or that is itself absolute.
func (p Prefix) SafeJoin(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %q is absolute", ErrUnsafeRelPath, rel)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the prefix", ErrUnsafeRelPath, rel)
	}
	return filepath.Join(p.Root, clean), nil
}

// MetaJoin resolves rel against the prefix's metadata directory.
func (p Prefix) MetaJoin(rel string) (string, error) {
	return p.SafeJoin(filepath.Join(p.MetadataDir, rel))
}
