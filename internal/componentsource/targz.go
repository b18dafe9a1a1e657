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

package componentsource

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/abcxyz/toolchaindist/internal/componentsstore"
	"github.com/abcxyz/toolchaindist/internal/transaction"
)

// TarGzSource unpacks a tar.gz release artifact into a temp directory and
// delegates to a DirSource over that directory. Release tarballs wrap their
// payload in a single versioned top-level directory (e.g.
// "rustc-1.80.0-x86_64-unknown-linux-gnu/"); that wrapper is stripped during
// unpacking so the resulting directory has the same shape DirSource expects.
type TarGzSource struct {
	dir    *DirSource
	tmpDir string
}

// NewTarGzSource unpacks the tar.gz stream r into a fresh directory under
// tmpBase.
func NewTarGzSource(ctx context.Context, r io.Reader, tmpBase string) (*TarGzSource, error) {
	destDir, err := os.MkdirTemp(tmpBase, "toolchaindist-pkg-")
	if err != nil {
		return nil, fmt.Errorf("MkdirTemp(): %w", err)
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading tar entry: %w", err)
		}

		rel := stripOutermostDir(hdr.Name)
		if rel == "" {
			continue
		}
		target := filepath.Join(destDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("MkdirAll(%s): %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, fmt.Errorf("MkdirAll(%s): %w", filepath.Dir(target), err)
			}
			if err := extractFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				return nil, fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
		default:
			// Symlinks and other special entry types aren't part of this
			// format; skip them rather than failing the whole unpack.
			continue
		}
	}

	dirSrc, err := NewDirSource(destDir)
	if err != nil {
		return nil, err
	}
	return &TarGzSource{dir: dirSrc, tmpDir: destDir}, nil
}

// Cleanup removes the temp directory this source unpacked into.
func (t *TarGzSource) Cleanup() error {
	return os.RemoveAll(t.tmpDir)
}

// ContentHash delegates to the underlying DirSource over the unpacked tree.
func (t *TarGzSource) ContentHash() (string, error) { return t.dir.ContentHash() }

func (t *TarGzSource) Components() ([]string, error) { return t.dir.Components() }

func (t *TarGzSource) Contains(componentName, shortName string) bool {
	return t.dir.Contains(componentName, shortName)
}

func (t *TarGzSource) Install(ctx context.Context, store *componentsstore.Store, componentName, shortName string, tx *transaction.Transaction) error {
	return t.dir.Install(ctx, store, componentName, shortName, tx)
}

func extractFile(r io.Reader, dst string, mode os.FileMode) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("OpenFile(%s): %w", dst, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}

// stripOutermostDir removes the leading path component of name, e.g.
// "rustc-1.80.0/bin/rustc" -> "bin/rustc". Returns "" for the wrapper
// directory entry itself.
func stripOutermostDir(name string) string {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		return ""
	}
	return name[idx+1:]
}
