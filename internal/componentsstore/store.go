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

// Package componentsstore implements the on-disk registry of installed
// components: which components are present under a prefix, and which
// files/directories each one owns.
package componentsstore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/abcxyz/toolchaindist/internal/iofs"
	"github.com/abcxyz/toolchaindist/internal/prefix"
	"github.com/abcxyz/toolchaindist/internal/transaction"
)

// InstallerMetadataVersion is the fixed sentinel value written to the
// metadata directory's version file. Opening a store whose on-disk sentinel
// doesn't match this fails.
const InstallerMetadataVersion = "3"

const (
	metadataVersionFileName = "rust-installer-version"
	registryFileName        = "components"
	componentManifestPrefix = "manifest-"
)

var (
	// ErrBadInstalledMetadataVersion is returned when the on-disk sentinel
	// doesn't match InstallerMetadataVersion.
	ErrBadInstalledMetadataVersion = errors.New("installed metadata version mismatch")
	// ErrCorruptComponent is returned when a component manifest file has a
	// line that doesn't parse as "file:" or "dir:" plus a path.
	ErrCorruptComponent = errors.New("corrupt component manifest")
)

// EntryKind distinguishes the two kinds of filesystem entry a component can
// own.
type EntryKind string

const (
	EntryFile EntryKind = "file"
	EntryDir  EntryKind = "dir"
)

// Entry is one filesystem path owned by a component.
type Entry struct {
	Kind EntryKind
	// Path is relative to the prefix root (not the metadata directory).
	Path string
}

// Store is the registry of installed components under one prefix.
type Store struct {
	prefix prefix.Prefix
	fs     iofs.FS
}

// Open opens (but does not create) a Store over px. If the metadata version
// sentinel is present and doesn't match InstallerMetadataVersion, returns
// ErrBadInstalledMetadataVersion. If the sentinel is simply absent, that's
// fine: it means there's no installation yet.
func Open(px prefix.Prefix, vfs iofs.FS) (*Store, error) {
	s := &Store{prefix: px, fs: vfs}
	versionPath, err := px.MetaJoin(metadataVersionFileName)
	if err != nil {
		return nil, err
	}
	data, err := vfs.ReadFile(versionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading metadata version: %w", err)
	}
	got := strings.TrimSpace(string(data))
	if got != InstallerMetadataVersion {
		return nil, fmt.Errorf("%w: found %q, want %q", ErrBadInstalledMetadataVersion, got, InstallerMetadataVersion)
	}
	return s, nil
}

// Component is one installed component.
type Component struct {
	Name  string
	store *Store
}

// List returns every currently installed component. Returns an empty slice,
// not an error, if the registry file doesn't exist yet.
func (s *Store) List() ([]Component, error) {
	names, err := s.registryNames()
	if err != nil {
		return nil, err
	}
	out := make([]Component, 0, len(names))
	for _, n := range names {
		out = append(out, Component{Name: n, store: s})
	}
	return out, nil
}

// Find looks up a single installed component by name.
func (s *Store) Find(name string) (Component, bool, error) {
	names, err := s.registryNames()
	if err != nil {
		return Component{}, false, err
	}
	for _, n := range names {
		if n == name {
			return Component{Name: n, store: s}, true, nil
		}
	}
	return Component{}, false, nil
}

func (s *Store) registryNames() ([]string, error) {
	path, err := s.prefix.MetaJoin(registryFileName)
	if err != nil {
		return nil, err
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading component registry: %w", err)
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

// Entries reads the component manifest for c, returning its owned entries in
// declaration order.
func (c Component) Entries() ([]Entry, error) {
	path, err := c.store.prefix.MetaJoin(componentManifestPrefix + c.Name)
	if err != nil {
		return nil, err
	}
	data, err := c.store.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading component manifest for %q: %w", c.Name, err)
	}

	var entries []Entry
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		kind, path, ok := strings.Cut(line, ":")
		if !ok || (kind != string(EntryFile) && kind != string(EntryDir)) {
			return nil, fmt.Errorf("%w: component %q line %q", ErrCorruptComponent, c.Name, line)
		}
		entries = append(entries, Entry{Kind: EntryKind(kind), Path: path})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning component manifest for %q: %w", c.Name, err)
	}
	return entries, nil
}

// Uninstall removes every entry this component owns (in reverse declaration
// order, so nested entries go before their containers), then removes the
// component's manifest and its name from the registry, all through tx.
func (c Component) Uninstall(ctx context.Context, tx *transaction.Transaction) error {
	entries, err := c.Entries()
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.Kind {
		case EntryFile:
			if err := tx.RemoveFile(ctx, c.Name, e.Path); err != nil {
				return fmt.Errorf("uninstalling %q: %w", c.Name, err)
			}
		case EntryDir:
			if err := tx.RemoveDir(ctx, c.Name, e.Path); err != nil {
				return fmt.Errorf("uninstalling %q: %w", c.Name, err)
			}
		}
	}

	names, err := c.store.registryNames()
	if err != nil {
		return err
	}
	kept := names[:0:0]
	for _, n := range names {
		if n != c.Name {
			kept = append(kept, n)
		}
	}
	if err := c.store.writeRegistry(ctx, tx, kept); err != nil {
		return err
	}

	manifestRel := metaRel(c.store.prefix, componentManifestPrefix+c.Name)
	if err := tx.RemoveFile(ctx, c.Name, manifestRel); err != nil {
		return fmt.Errorf("removing component manifest for %q: %w", c.Name, err)
	}
	return nil
}

// metaRel returns name's path relative to the prefix root (not the metadata
// directory), suitable for passing to a Transaction method: MetadataDir/name.
func metaRel(px prefix.Prefix, name string) string {
	return px.MetadataDir + "/" + name
}

// writeRegistry overwrites the registry file with names, through tx.
func (s *Store) writeRegistry(ctx context.Context, tx *transaction.Transaction, names []string) error {
	w, err := tx.ModifyFile(ctx, metaRel(s.prefix, registryFileName))
	if err != nil {
		return fmt.Errorf("writing component registry: %w", err)
	}
	defer w.Close()
	if _, err := w.Write([]byte(strings.Join(names, "\n"))); err != nil {
		return fmt.Errorf("writing component registry: %w", err)
	}
	return nil
}
