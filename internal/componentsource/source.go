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

// Package componentsource presents a component-oriented view over an
// unpacked release artifact: given a directory (already unpacked from a
// tarball, or simply on disk), it can enumerate the components inside and
// install any one of them through a transaction.
package componentsource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/sumdb/dirhash"

	"github.com/abcxyz/toolchaindist/internal/componentsstore"
	"github.com/abcxyz/toolchaindist/internal/transaction"
)

// SupportedInstallerVersion is the fixed value this code understands for a
// package's own "rust-installer-version" sentinel. This is a property of the
// package's on-disk layout, distinct from componentsstore's
// InstallerMetadataVersion, which is a property of the installed prefix.
const SupportedInstallerVersion = "3"

var (
	// ErrBadInstallerVersion is returned when a package's sentinel doesn't
	// match SupportedInstallerVersion.
	ErrBadInstallerVersion = errors.New("unsupported package installer version")
	// ErrComponentNotFound is returned by Install when neither the long nor
	// short component name is present in this package.
	ErrComponentNotFound = errors.New("component not found in package")
)

// PackageSource is a component-oriented view over an unpacked package.
type PackageSource interface {
	// Contains reports whether componentName (or, if non-empty, shortName)
	// is present in this package.
	Contains(componentName, shortName string) bool
	// Components enumerates every component name present in this package.
	Components() ([]string, error)
	// Install copies componentName's files into the prefix through tx,
	// registering them in store.
	Install(ctx context.Context, store *componentsstore.Store, componentName, shortName string, tx *transaction.Transaction) error
}

// entry is one line of a component's manifest.in file.
type entry struct {
	dir        bool
	rel        string
	executable bool
}

// DirSource reads components directly from an on-disk directory tree, in
// the conventional layout: a top-level "components" file listing component
// subdirectory names, a top-level "rust-installer-version" sentinel, and
// per-component "manifest.in" files.
type DirSource struct {
	root string
}

// NewDirSource opens root as a package source, validating its installer
// version sentinel.
func NewDirSource(root string) (*DirSource, error) {
	verPath := filepath.Join(root, "rust-installer-version")
	data, err := os.ReadFile(verPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", verPath, err)
	}
	got := strings.TrimSpace(string(data))
	if got != SupportedInstallerVersion {
		return nil, fmt.Errorf("%w: found %q, want %q", ErrBadInstallerVersion, got, SupportedInstallerVersion)
	}
	return &DirSource{root: root}, nil
}

// Components lists the component subdirectory names declared by this
// package's top-level "components" file.
func (d *DirSource) Components() ([]string, error) {
	data, err := os.ReadFile(filepath.Join(d.root, "components"))
	if err != nil {
		return nil, fmt.Errorf("reading components list: %w", err)
	}
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// Contains reports whether componentName or shortName appears in the
// package's component list.
func (d *DirSource) Contains(componentName, shortName string) bool {
	names, err := d.Components()
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == componentName || (shortName != "" && n == shortName) {
			return true
		}
	}
	return false
}

// Install copies componentName's (falling back to shortName) files into the
// prefix through tx and registers them via store.
func (d *DirSource) Install(ctx context.Context, store *componentsstore.Store, componentName, shortName string, tx *transaction.Transaction) error {
	name := componentName
	if !d.dirExists(name) && shortName != "" && d.dirExists(shortName) {
		name = shortName
	}
	if !d.dirExists(name) {
		return fmt.Errorf("%w: %q", ErrComponentNotFound, componentName)
	}

	entries, err := d.readManifestIn(name)
	if err != nil {
		return err
	}

	b := store.Add(componentName, tx)
	srcDir := filepath.Join(d.root, name)
	for _, e := range entries {
		src := filepath.Join(srcDir, e.rel)
		if e.dir {
			b.AddDir(ctx, e.rel)
			continue
		}
		mode := filePermission(e.rel, e.executable)
		b.CopyFile(ctx, e.rel, src, mode)
	}
	return b.Finish(ctx)
}

// ContentHash returns a secondary integrity signal for the unpacked package
// tree, independent of the artifact's own SHA-256: a deterministic hash of
// every file's path and contents, in the same form "go mod verify" uses for
// module trees. Useful for detecting a corrupted unpack step even when the
// downloaded artifact's checksum matched.
func (d *DirSource) ContentHash() (string, error) {
	h, err := dirhash.HashDir(d.root, "pkg", dirhash.Hash1)
	if err != nil {
		return "", fmt.Errorf("hashing unpacked package tree: %w", err)
	}
	return h, nil
}

func (d *DirSource) dirExists(name string) bool {
	info, err := os.Stat(filepath.Join(d.root, name))
	return err == nil && info.IsDir()
}

// readManifestIn parses componentDir/manifest.in: each line is
// "file:rel", "dir:rel", or "file:rel:executable".
func (d *DirSource) readManifestIn(componentDir string) ([]entry, error) {
	path := filepath.Join(d.root, componentDir, "manifest.in")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var entries []entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed manifest.in line %q in %s", line, path)
		}
		e := entry{rel: parts[1]}
		switch parts[0] {
		case "dir":
			e.dir = true
		case "file":
			e.executable = len(parts) > 2 && parts[2] == "executable"
		default:
			return nil, fmt.Errorf("malformed manifest.in line %q in %s: unknown kind %q", line, path, parts[0])
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return entries, nil
}
