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

package iofs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/abcxyz/pkg/logging"
)

// CopyFile copies the single file at src (a real OS path, outside the
// abstract fs, since the source is typically an unpacked package directory
// rather than a prefix) into dst (resolved through vfs). A newly created dst
// gets mode; src's own mode is not copied.
func CopyFile(ctx context.Context, vfs FS, src, dst string, mode os.FileMode) (outErr error) {
	logger := logging.FromContext(ctx).With("logger", "iofs.CopyFile")

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("Open(%s): %w", src, err)
	}
	defer func() { outErr = errors.Join(outErr, in.Close()) }()

	out, err := vfs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("OpenFile(%s): %w", dst, err)
	}
	defer func() { outErr = errors.Join(outErr, out.Close()) }()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	logger.DebugContext(ctx, "copied file", "source", src, "destination", dst)
	return nil
}

// CopyDir recursively copies the directory tree rooted at src (a real OS
// path) into dst (resolved through vfs), preserving each entry's mode.
func CopyDir(ctx context.Context, vfs FS, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("filepath.Rel(%s, %s): %w", src, path, err)
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("Info(): %w", err)
		}

		if d.IsDir() {
			if err := vfs.MkdirAll(target, info.Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("MkdirAll(%s): %w", target, err)
			}
			return nil
		}
		return CopyFile(ctx, vfs, path, target, info.Mode().Perm())
	})
}
