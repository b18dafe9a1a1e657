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

package componentsstore

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/abcxyz/toolchaindist/internal/transaction"
)

// ComponentBuilder accumulates the filesystem entries a new component owns,
// through a Transaction, finishing by writing the component manifest,
// registering the component's name, and ensuring the metadata version
// sentinel exists.
type ComponentBuilder struct {
	store   *Store
	tx      *transaction.Transaction
	name    string
	entries []Entry
	err     error
}

// Add begins installing a new component named name through tx.
func (s *Store) Add(name string, tx *transaction.Transaction) *ComponentBuilder {
	return &ComponentBuilder{store: s, tx: tx, name: name}
}

// AddFile writes a new file at rel with the given content.
func (b *ComponentBuilder) AddFile(ctx context.Context, rel string, content []byte, mode os.FileMode) *ComponentBuilder {
	if b.err != nil {
		return b
	}
	if err := b.tx.WriteFile(ctx, b.name, rel, content, mode); err != nil {
		b.err = fmt.Errorf("component %q: %w", b.name, err)
		return b
	}
	b.entries = append(b.entries, Entry{Kind: EntryFile, Path: rel})
	return b
}

// CopyFile copies the real OS file at src into rel.
func (b *ComponentBuilder) CopyFile(ctx context.Context, rel, src string, mode os.FileMode) *ComponentBuilder {
	if b.err != nil {
		return b
	}
	if err := b.tx.CopyFile(ctx, b.name, rel, src, mode); err != nil {
		b.err = fmt.Errorf("component %q: %w", b.name, err)
		return b
	}
	b.entries = append(b.entries, Entry{Kind: EntryFile, Path: rel})
	return b
}

// AddDir creates an empty directory at rel.
func (b *ComponentBuilder) AddDir(ctx context.Context, rel string) *ComponentBuilder {
	if b.err != nil {
		return b
	}
	if err := b.tx.AddDir(ctx, b.name, rel); err != nil {
		b.err = fmt.Errorf("component %q: %w", b.name, err)
		return b
	}
	b.entries = append(b.entries, Entry{Kind: EntryDir, Path: rel})
	return b
}

// Finish writes the component's manifest, registers its name, and ensures
// the metadata version sentinel is present, all through the same
// Transaction this builder was created with.
func (b *ComponentBuilder) Finish(ctx context.Context) error {
	if b.err != nil {
		return b.err
	}

	lines := make([]string, 0, len(b.entries))
	for _, e := range b.entries {
		lines = append(lines, string(e.Kind)+":"+e.Path)
	}
	manifestRel := metaRel(b.store.prefix, componentManifestPrefix+b.name)
	if err := b.tx.WriteFile(ctx, b.name, manifestRel, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("writing component manifest for %q: %w", b.name, err)
	}

	names, err := b.store.registryNames()
	if err != nil {
		return err
	}
	names = append(names, b.name)
	if err := b.registerOrAppend(ctx, names); err != nil {
		return err
	}

	return b.ensureMetadataVersion(ctx)
}

// registerOrAppend writes the registry file, creating it if this is the
// first component ever installed under this prefix.
func (b *ComponentBuilder) registerOrAppend(ctx context.Context, names []string) error {
	registryPath, err := b.store.prefix.MetaJoin(registryFileName)
	if err != nil {
		return err
	}
	if _, statErr := b.store.fs.Stat(registryPath); statErr != nil {
		if !os.IsNotExist(statErr) {
			return fmt.Errorf("stat component registry: %w", statErr)
		}
		if err := b.tx.WriteFile(ctx, b.name, metaRel(b.store.prefix, registryFileName), []byte(strings.Join(names, "\n")), 0o644); err != nil {
			return fmt.Errorf("creating component registry: %w", err)
		}
		return nil
	}
	return b.store.writeRegistry(ctx, b.tx, names)
}

func (b *ComponentBuilder) ensureMetadataVersion(ctx context.Context) error {
	versionPath, err := b.store.prefix.MetaJoin(metadataVersionFileName)
	if err != nil {
		return err
	}
	if _, err := b.store.fs.Stat(versionPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat metadata version: %w", err)
	}
	if err := b.tx.WriteFile(ctx, b.name, metaRel(b.store.prefix, metadataVersionFileName), []byte(InstallerMetadataVersion+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing metadata version sentinel: %w", err)
	}
	return nil
}
