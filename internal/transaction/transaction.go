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

// Package transaction implements the journaled, rollback-capable filesystem
// mutator that every install/uninstall operation in this module runs
// through. Every successful mutation is recorded in a journal right after it
// happens; destroy/overwrite operations first take a backup, which the
// journal entry holds. Dropping the transaction
// without calling Commit replays the journal in reverse to restore the
// prefix to its prior state.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/toolchaindist/internal/iofs"
	"github.com/abcxyz/toolchaindist/internal/notify"
	"github.com/abcxyz/toolchaindist/internal/prefix"
	"github.com/abcxyz/toolchaindist/internal/temp"
)

var (
	// ErrComponentConflict is returned when an add/copy/write operation
	// targets a path that already exists.
	ErrComponentConflict = errors.New("path already exists")
	// ErrComponentMissingFile is returned when a remove operation names a
	// file that doesn't exist.
	ErrComponentMissingFile = errors.New("file does not exist")
	// ErrComponentMissingDir is returned when a remove operation names a
	// directory that doesn't exist.
	ErrComponentMissingDir = errors.New("directory does not exist")
)

type changeKind int

const (
	addedFile changeKind = iota
	addedDir
	removedFile
	removedDir
	modifiedFile
)

// change is one entry in the transaction's journal. Exactly one of the
// backup fields is populated, depending on kind.
type change struct {
	kind      changeKind
	rel       string
	component string

	backupFile string // removedFile, modifiedFile-with-backup
	backupDir  string // removedDir
	hadBackup  bool   // modifiedFile only: distinguishes Some(backup) from None
}

// Transaction journals filesystem mutations under a single Prefix.
type Transaction struct {
	prefix prefix.Prefix
	fs     iofs.FS
	temp   temp.Provider
	sink   notify.Sink

	changes   []change
	committed bool
}

// Open begins a new transaction against px. The caller must arrange for
// Close to be called (typically via defer) so that an operation which
// returns early due to an error is rolled back.
func Open(px prefix.Prefix, vfs iofs.FS, tp temp.Provider, sink notify.Sink) *Transaction {
	if sink == nil {
		sink = notify.NopSink{}
	}
	return &Transaction{prefix: px, fs: vfs, temp: tp, sink: sink}
}

func (tx *Transaction) abs(rel string) (string, error) {
	return tx.prefix.SafeJoin(rel)
}

func (tx *Transaction) ensureParent(path string) error {
	return tx.fs.MkdirAll(filepath.Dir(path), 0o755)
}

// AddFile creates a new, empty file at rel and returns it open for writing.
// It fails with ErrComponentConflict if rel already exists.
func (tx *Transaction) AddFile(ctx context.Context, component, rel string) (*os.File, error) {
	abs, err := tx.abs(rel)
	if err != nil {
		return nil, err
	}
	if _, err := tx.fs.Stat(abs); err == nil {
		return nil, fmt.Errorf("AddFile(%s): %w: %s", rel, ErrComponentConflict, rel)
	}
	if err := tx.ensureParent(abs); err != nil {
		return nil, fmt.Errorf("AddFile(%s): %w", rel, err)
	}
	f, err := tx.fs.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("AddFile(%s): %w", rel, err)
	}
	tx.record(change{kind: addedFile, rel: rel, component: component})
	return f, nil
}

// WriteFile creates a new file at rel with the given content. It fails with
// ErrComponentConflict if rel already exists.
func (tx *Transaction) WriteFile(ctx context.Context, component, rel string, content []byte, mode os.FileMode) error {
	abs, err := tx.abs(rel)
	if err != nil {
		return err
	}
	if _, err := tx.fs.Stat(abs); err == nil {
		return fmt.Errorf("WriteFile(%s): %w: %s", rel, ErrComponentConflict, rel)
	}
	if err := tx.ensureParent(abs); err != nil {
		return fmt.Errorf("WriteFile(%s): %w", rel, err)
	}
	if err := tx.fs.WriteFile(abs, content, mode); err != nil {
		return fmt.Errorf("WriteFile(%s): %w", rel, err)
	}
	tx.record(change{kind: addedFile, rel: rel, component: component})
	return nil
}

// CopyFile copies the file at the real OS path src into rel, creating it with
// mode. It fails with ErrComponentConflict if rel already exists.
func (tx *Transaction) CopyFile(ctx context.Context, component, rel, src string, mode os.FileMode) error {
	abs, err := tx.abs(rel)
	if err != nil {
		return err
	}
	if _, err := tx.fs.Stat(abs); err == nil {
		return fmt.Errorf("CopyFile(%s): %w: %s", rel, ErrComponentConflict, rel)
	}
	if err := tx.ensureParent(abs); err != nil {
		return fmt.Errorf("CopyFile(%s): %w", rel, err)
	}
	if err := iofs.CopyFile(ctx, tx.fs, src, abs, mode); err != nil {
		return fmt.Errorf("CopyFile(%s): %w", rel, err)
	}
	tx.record(change{kind: addedFile, rel: rel, component: component})
	return nil
}

// AddDir creates an empty directory at rel. It fails with
// ErrComponentConflict if rel already exists.
func (tx *Transaction) AddDir(ctx context.Context, component, rel string) error {
	abs, err := tx.abs(rel)
	if err != nil {
		return err
	}
	if _, err := tx.fs.Stat(abs); err == nil {
		return fmt.Errorf("AddDir(%s): %w: %s", rel, ErrComponentConflict, rel)
	}
	if err := tx.ensureParent(abs); err != nil {
		return fmt.Errorf("AddDir(%s): %w", rel, err)
	}
	if err := tx.fs.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("AddDir(%s): %w", rel, err)
	}
	tx.record(change{kind: addedDir, rel: rel, component: component})
	return nil
}

// CopyDir recursively copies the real OS directory tree at src into rel.
// Every directory and file encountered is journaled individually, in
// traversal order (a directory's AddedDir record always precedes the
// AddedFile records of its contents), so rollback can undo a partially
// completed copy.
func (tx *Transaction) CopyDir(ctx context.Context, component, rel, src string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relToSrc, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("filepath.Rel(%s, %s): %w", src, path, err)
		}
		targetRel := rel
		if relToSrc != "." {
			targetRel = filepath.Join(rel, relToSrc)
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("Info(): %w", err)
		}
		if d.IsDir() {
			return tx.AddDir(ctx, component, targetRel)
		}
		return tx.CopyFile(ctx, component, targetRel, path, info.Mode().Perm())
	})
}

// RemoveFile backs up and deletes the file at rel. It fails with
// ErrComponentMissingFile if rel does not exist.
func (tx *Transaction) RemoveFile(ctx context.Context, component, rel string) error {
	abs, err := tx.abs(rel)
	if err != nil {
		return err
	}
	if _, err := tx.fs.Stat(abs); err != nil {
		return fmt.Errorf("RemoveFile(%s): %w", rel, ErrComponentMissingFile)
	}

	backup, err := tx.temp.NewFile()
	if err != nil {
		return fmt.Errorf("RemoveFile(%s): allocating backup: %w", rel, err)
	}
	defer backup.Close()

	data, err := tx.fs.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("RemoveFile(%s): %w", rel, err)
	}
	if _, err := backup.Write(data); err != nil {
		return fmt.Errorf("RemoveFile(%s): backing up: %w", rel, err)
	}
	if err := tx.fs.Remove(abs); err != nil {
		return fmt.Errorf("RemoveFile(%s): %w", rel, err)
	}
	tx.record(change{kind: removedFile, rel: rel, component: component, backupFile: backup.Name()})
	return nil
}

// RemoveDir backs up and deletes the directory tree at rel. It fails with
// ErrComponentMissingDir if rel does not exist.
func (tx *Transaction) RemoveDir(ctx context.Context, component, rel string) error {
	abs, err := tx.abs(rel)
	if err != nil {
		return err
	}
	info, err := tx.fs.Stat(abs)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("RemoveDir(%s): %w", rel, ErrComponentMissingDir)
	}

	backupDir, err := tx.temp.NewDir()
	if err != nil {
		return fmt.Errorf("RemoveDir(%s): allocating backup: %w", rel, err)
	}
	if err := iofs.CopyDir(ctx, tx.fs, abs, backupDir); err != nil {
		return fmt.Errorf("RemoveDir(%s): backing up: %w", rel, err)
	}
	if err := tx.fs.RemoveAll(abs); err != nil {
		return fmt.Errorf("RemoveDir(%s): %w", rel, err)
	}
	tx.record(change{kind: removedDir, rel: rel, component: component, backupDir: backupDir})
	return nil
}

// ModifyFile is the only operation permitted to overwrite existing content.
// If rel exists, its current contents are backed up before the returned
// writer truncates it; if not, rollback will simply delete whatever gets
// created.
func (tx *Transaction) ModifyFile(ctx context.Context, rel string) (io.WriteCloser, error) {
	abs, err := tx.abs(rel)
	if err != nil {
		return nil, err
	}

	c := change{kind: modifiedFile, rel: rel}
	if info, err := tx.fs.Stat(abs); err == nil && !info.IsDir() {
		backup, err := tx.temp.NewFile()
		if err != nil {
			return nil, fmt.Errorf("ModifyFile(%s): allocating backup: %w", rel, err)
		}
		defer backup.Close()
		data, err := tx.fs.ReadFile(abs)
		if err != nil {
			return nil, fmt.Errorf("ModifyFile(%s): %w", rel, err)
		}
		if _, err := backup.Write(data); err != nil {
			return nil, fmt.Errorf("ModifyFile(%s): backing up: %w", rel, err)
		}
		c.backupFile = backup.Name()
		c.hadBackup = true
	} else if err := tx.ensureParent(abs); err != nil {
		return nil, fmt.Errorf("ModifyFile(%s): %w", rel, err)
	}

	f, err := tx.fs.OpenFile(abs, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ModifyFile(%s): %w", rel, err)
	}
	tx.record(c)
	return f, nil
}

func (tx *Transaction) record(c change) {
	tx.changes = append(tx.changes, c)
}

// Commit finalizes the transaction: no further rollback will occur, and any
// still-live backups are released. A failure to release a backup is
// reported to the sink and does not change the fact that the transaction is
// committed.
func (tx *Transaction) Commit(ctx context.Context) error {
	tx.committed = true
	if err := tx.temp.Cleanup(ctx); err != nil {
		tx.sink.Notify(ctx, notify.Event{Kind: notify.KindNonFatalError, Message: "releasing transaction backups", Err: err})
	}
	return nil
}

// Close rolls back every change recorded since Open, in reverse order, if
// Commit was never called. It is safe to call multiple times and safe to
// call after Commit (a no-op in that case). Rollback failures are reported
// to the sink, never returned, per this package's contract: the caller's
// original error (if any) is what should propagate, not a secondary
// rollback failure.
func (tx *Transaction) Close(ctx context.Context) {
	if tx.committed {
		return
	}
	logger := logging.FromContext(ctx).With("logger", "transaction")
	if len(tx.changes) > 0 {
		tx.sink.Notify(ctx, notify.Event{Kind: notify.KindRollingBack, Message: fmt.Sprintf("rolling back %d change(s)", len(tx.changes))})
	}

	for i := len(tx.changes) - 1; i >= 0; i-- {
		c := tx.changes[i]
		if err := tx.rollbackOne(ctx, c); err != nil {
			logger.WarnContext(ctx, "rollback step failed", "path", c.rel, "error", err)
			tx.sink.Notify(ctx, notify.Event{Kind: notify.KindNonFatalError, Path: c.rel, Message: "rollback step failed", Err: err})
		}
	}
	tx.changes = nil
	tx.committed = true // prevent a second Close from re-running rollback
}

func (tx *Transaction) rollbackOne(ctx context.Context, c change) error {
	abs, err := tx.abs(c.rel)
	if err != nil {
		return err
	}
	switch c.kind {
	case addedFile, addedDir:
		if err := tx.fs.Remove(abs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", c.rel, err)
		}
	case removedFile:
		if err := tx.fs.Rename(c.backupFile, abs); err != nil {
			return fmt.Errorf("restoring %s: %w", c.rel, err)
		}
	case removedDir:
		if err := tx.fs.RemoveAll(abs); err != nil {
			return fmt.Errorf("clearing %s before restore: %w", c.rel, err)
		}
		if err := tx.fs.Rename(c.backupDir, abs); err != nil {
			return fmt.Errorf("restoring %s: %w", c.rel, err)
		}
	case modifiedFile:
		if c.hadBackup {
			if err := tx.fs.Rename(c.backupFile, abs); err != nil {
				return fmt.Errorf("restoring %s: %w", c.rel, err)
			}
		} else if err := tx.fs.Remove(abs); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", c.rel, err)
		}
	}
	return nil
}
