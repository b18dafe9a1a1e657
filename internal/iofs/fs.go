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

// Package iofs abstracts the small slice of filesystem operations the rest of
// this module needs, so that transaction and component-store logic can be
// exercised against an in-memory or error-injecting fake instead of a real
// disk.
package iofs

import (
	"io/fs"
	"os"
)

// FS is the filesystem surface consumed by the transaction and components
// store packages. It's not io/fs.FS because that's read-only; everything
// here corresponds one-to-one with a function of the same name in the os
// package.
type FS interface {
	fs.StatFS

	MkdirAll(path string, perm os.FileMode) error
	MkdirTemp(dir, pattern string) (string, error)
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Remove(name string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error
}

// RealFS implements FS against the actual operating system.
type RealFS struct{}

func (RealFS) Open(name string) (fs.File, error) { return os.Open(name) }
func (RealFS) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }

func (RealFS) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }
func (RealFS) MkdirTemp(dir, pattern string) (string, error) { return os.MkdirTemp(dir, pattern) }

func (RealFS) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

func (RealFS) ReadFile(name string) ([]byte, error) { return os.ReadFile(name) }

func (RealFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (RealFS) Remove(name string) error { return os.Remove(name) }

func (RealFS) RemoveAll(path string) error { return os.RemoveAll(path) }

func (RealFS) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }
