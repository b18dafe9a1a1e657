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

package transaction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/abcxyz/toolchaindist/internal/iofs"
	"github.com/abcxyz/toolchaindist/internal/notify"
	"github.com/abcxyz/toolchaindist/internal/prefix"
	"github.com/abcxyz/toolchaindist/internal/temp"
)

func newFixture(t *testing.T) (prefix.Prefix, iofs.FS, *temp.OSProvider) {
	t.Helper()
	root := t.TempDir()
	return prefix.New(root), iofs.RealFS{}, &temp.OSProvider{Base: t.TempDir()}
}

func TestTransaction_WriteFile_CommitPersists(t *testing.T) {
	t.Parallel()

	px, vfs, tp := newFixture(t)
	tx := Open(px, vfs, tp, nil)

	if err := tx.WriteFile(context.Background(), "rustc", "bin/rustc", []byte("binary"), 0o755); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit() = %v", err)
	}
	tx.Close(context.Background()) // no-op after commit

	got, err := os.ReadFile(filepath.Join(px.Root, "bin/rustc"))
	if err != nil {
		t.Fatalf("file was not persisted: %v", err)
	}
	if string(got) != "binary" {
		t.Errorf("contents = %q, want %q", got, "binary")
	}
}

func TestTransaction_WriteFile_RollbackRemoves(t *testing.T) {
	t.Parallel()

	px, vfs, tp := newFixture(t)
	tx := Open(px, vfs, tp, nil)

	if err := tx.WriteFile(context.Background(), "rustc", "bin/rustc", []byte("binary"), 0o755); err != nil {
		t.Fatalf("WriteFile() = %v", err)
	}
	tx.Close(context.Background()) // no Commit: rolls back

	if _, err := os.Stat(filepath.Join(px.Root, "bin/rustc")); !os.IsNotExist(err) {
		t.Errorf("expected file to be rolled back, Stat() = %v", err)
	}
}

func TestTransaction_WriteFile_ConflictRejected(t *testing.T) {
	t.Parallel()

	px, vfs, tp := newFixture(t)
	tx := Open(px, vfs, tp, nil)
	defer tx.Close(context.Background())

	if err := tx.WriteFile(context.Background(), "rustc", "bin/rustc", []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := tx.WriteFile(context.Background(), "rustc", "bin/rustc", []byte("b"), 0o644)
	if !errors.Is(err, ErrComponentConflict) {
		t.Errorf("expected ErrComponentConflict, got %v", err)
	}
}

func TestTransaction_RemoveFile_RollbackRestores(t *testing.T) {
	t.Parallel()

	px, vfs, tp := newFixture(t)

	setup := Open(px, vfs, tp, nil)
	if err := setup.WriteFile(context.Background(), "rustc", "bin/rustc", []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := setup.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}

	tx := Open(px, vfs, tp, nil)
	if err := tx.RemoveFile(context.Background(), "rustc", "bin/rustc"); err != nil {
		t.Fatalf("RemoveFile() = %v", err)
	}
	if _, err := os.Stat(filepath.Join(px.Root, "bin/rustc")); !os.IsNotExist(err) {
		t.Fatal("file should be gone immediately after RemoveFile")
	}
	tx.Close(context.Background())

	got, err := os.ReadFile(filepath.Join(px.Root, "bin/rustc"))
	if err != nil {
		t.Fatalf("file was not restored by rollback: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("restored contents = %q, want %q", got, "original")
	}
}

func TestTransaction_RemoveFile_MissingFails(t *testing.T) {
	t.Parallel()

	px, vfs, tp := newFixture(t)
	tx := Open(px, vfs, tp, nil)
	defer tx.Close(context.Background())

	err := tx.RemoveFile(context.Background(), "rustc", "nope")
	if !errors.Is(err, ErrComponentMissingFile) {
		t.Errorf("expected ErrComponentMissingFile, got %v", err)
	}
}

func TestTransaction_RemoveDir_RollbackRestores(t *testing.T) {
	t.Parallel()

	px, vfs, tp := newFixture(t)

	setup := Open(px, vfs, tp, nil)
	if err := setup.AddDir(context.Background(), "rust-src", "share/src"); err != nil {
		t.Fatal(err)
	}
	if err := setup.WriteFile(context.Background(), "rust-src", "share/src/lib.rs", []byte("fn main() {}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := setup.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}

	tx := Open(px, vfs, tp, nil)
	if err := tx.RemoveDir(context.Background(), "rust-src", "share/src"); err != nil {
		t.Fatalf("RemoveDir() = %v", err)
	}
	tx.Close(context.Background())

	got, err := os.ReadFile(filepath.Join(px.Root, "share/src/lib.rs"))
	if err != nil {
		t.Fatalf("directory was not restored by rollback: %v", err)
	}
	if string(got) != "fn main() {}" {
		t.Errorf("restored contents = %q", got)
	}
}

func TestTransaction_ModifyFile_RollbackRestoresPriorContent(t *testing.T) {
	t.Parallel()

	px, vfs, tp := newFixture(t)

	setup := Open(px, vfs, tp, nil)
	if err := setup.WriteFile(context.Background(), "", "registry.yaml", []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := setup.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}

	tx := Open(px, vfs, tp, nil)
	w, err := tx.ModifyFile(context.Background(), "registry.yaml")
	if err != nil {
		t.Fatalf("ModifyFile() = %v", err)
	}
	if _, err := w.Write([]byte("new")); err != nil {
		t.Fatal(err)
	}
	w.Close()
	tx.Close(context.Background())

	got, err := os.ReadFile(filepath.Join(px.Root, "registry.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "old" {
		t.Errorf("contents = %q, want rollback to restore %q", got, "old")
	}
}

func TestTransaction_ModifyFile_RollbackRemovesNewFile(t *testing.T) {
	t.Parallel()

	px, vfs, tp := newFixture(t)
	tx := Open(px, vfs, tp, nil)

	w, err := tx.ModifyFile(context.Background(), "registry.yaml")
	if err != nil {
		t.Fatalf("ModifyFile() = %v", err)
	}
	w.Write([]byte("brand new"))
	w.Close()
	tx.Close(context.Background())

	if _, err := os.Stat(filepath.Join(px.Root, "registry.yaml")); !os.IsNotExist(err) {
		t.Errorf("expected a never-committed new file to be rolled back, Stat() = %v", err)
	}
}

func TestTransaction_CopyDir(t *testing.T) {
	t.Parallel()

	px, vfs, tp := newFixture(t)

	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "file.txt"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	tx := Open(px, vfs, tp, nil)
	if err := tx.CopyDir(context.Background(), "rustc", "share/pkg", src); err != nil {
		t.Fatalf("CopyDir() = %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(px.Root, "share/pkg/nested/file.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "data" {
		t.Errorf("contents = %q", got)
	}
}

func TestTransaction_Close_NotifiesRollback(t *testing.T) {
	t.Parallel()

	px, vfs, tp := newFixture(t)

	var events []notify.Event
	sink := sinkFunc(func(_ context.Context, ev notify.Event) { events = append(events, ev) })

	tx := Open(px, vfs, tp, sink)
	if err := tx.WriteFile(context.Background(), "rustc", "bin/rustc", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tx.Close(context.Background())

	if len(events) == 0 {
		t.Fatal("expected at least one notification for the rollback")
	}
	if events[0].Kind != notify.KindRollingBack {
		t.Errorf("first event kind = %v, want KindRollingBack", events[0].Kind)
	}
}

type sinkFunc func(ctx context.Context, ev notify.Event)

func (f sinkFunc) Notify(ctx context.Context, ev notify.Event) { f(ctx, ev) }
