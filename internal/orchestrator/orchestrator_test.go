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

package orchestrator

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/abcxyz/toolchaindist/internal/componentsstore"
	"github.com/abcxyz/toolchaindist/internal/diffplan"
	"github.com/abcxyz/toolchaindist/internal/download"
	"github.com/abcxyz/toolchaindist/internal/iofs"
	"github.com/abcxyz/toolchaindist/internal/manifest"
	"github.com/abcxyz/toolchaindist/internal/notify"
	"github.com/abcxyz/toolchaindist/internal/prefix"
	"github.com/abcxyz/toolchaindist/internal/temp"
	mdl "github.com/abcxyz/toolchaindist/internal/testutil/model"
)

func buildPackageTarGz(t *testing.T, componentName string, files map[string]string) []byte {
	t.Helper()

	wrapped := map[string]string{
		"pkg/rust-installer-version": "3\n",
		"pkg/components":             componentName + "\n",
	}
	for rel, content := range files {
		wrapped["pkg/"+componentName+"/"+rel] = content
	}
	var manifestIn strings.Builder
	for rel := range files {
		manifestIn.WriteString("file:" + rel + "\n")
	}
	wrapped["pkg/"+componentName+"/manifest.in"] = manifestIn.String()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range wrapped {
		if err := tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(content))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func hexSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// newTestServer serves the distribution manifest, its sidecar, and one
// package artifact for "rustc" at a single target.
func newTestServer(t *testing.T) (srv *httptest.Server, manifestURL string) {
	t.Helper()

	artifact := buildPackageTarGz(t, "rustc", map[string]string{"bin/rustc": "binary-contents"})
	artifactHash := hexSHA256(artifact)

	manifestYAML := fmt.Sprintf(`
version: '2'
date: '2024-06-01'
packages:
  rustc:
    version: '1.80.0'
    targets:
      x86_64-unknown-linux-gnu:
        available: true
        url: '%%s/rustc.tar.gz'
        hash: '%s'
        components:
          - pkg: rustc
            target: x86_64-unknown-linux-gnu
`, artifactHash)

	mux := http.NewServeMux()
	mux.HandleFunc("/rustc.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(artifact)
	})
	mux.HandleFunc("/manifest.yaml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, manifestYAML, srv.URL)
	})
	mux.HandleFunc("/manifest.yaml.sha256", func(w http.ResponseWriter, r *http.Request) {
		body := fmt.Sprintf(manifestYAML, srv.URL)
		fmt.Fprintf(w, "%s  manifest.yaml\n", hexSHA256([]byte(body)))
	})

	srv = httptest.NewServer(mux)
	return srv, srv.URL + "/manifest.yaml"
}

// newExtensionTestServer serves a distribution manifest whose root package
// ("rustc") offers "rust-src" as an installable extension, each backed by its
// own package artifact.
func newExtensionTestServer(t *testing.T) (srv *httptest.Server, manifestURL string) {
	t.Helper()

	rustcArtifact := buildPackageTarGz(t, "rustc", map[string]string{"bin/rustc": "binary-contents"})
	rustcHash := hexSHA256(rustcArtifact)
	rustSrcArtifact := buildPackageTarGz(t, "rust-src", map[string]string{"lib/rustlib/src/rust-src": "src-contents"})
	rustSrcHash := hexSHA256(rustSrcArtifact)

	manifestYAML := fmt.Sprintf(`
version: '2'
date: '2024-06-01'
packages:
  rustc:
    version: '1.80.0'
    targets:
      x86_64-unknown-linux-gnu:
        available: true
        url: '%%[1]s/rustc.tar.gz'
        hash: '%s'
        components:
          - pkg: rustc
            target: x86_64-unknown-linux-gnu
        extensions:
          - pkg: rust-src
            target: x86_64-unknown-linux-gnu
  rust-src:
    version: '1.80.0'
    targets:
      x86_64-unknown-linux-gnu:
        available: true
        url: '%%[1]s/rust-src.tar.gz'
        hash: '%s'
        components:
          - pkg: rust-src
            target: x86_64-unknown-linux-gnu
`, rustcHash, rustSrcHash)

	mux := http.NewServeMux()
	mux.HandleFunc("/rustc.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(rustcArtifact)
	})
	mux.HandleFunc("/rust-src.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(rustSrcArtifact)
	})
	mux.HandleFunc("/manifest.yaml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, manifestYAML, srv.URL)
	})
	mux.HandleFunc("/manifest.yaml.sha256", func(w http.ResponseWriter, r *http.Request) {
		body := fmt.Sprintf(manifestYAML, srv.URL)
		fmt.Fprintf(w, "%s  manifest.yaml\n", hexSHA256([]byte(body)))
	})

	srv = httptest.NewServer(mux)
	return srv, srv.URL + "/manifest.yaml"
}

func newParams(t *testing.T, manifestURL string) *Params {
	t.Helper()
	root := t.TempDir()
	return &Params{
		Prefix:       prefix.New(root),
		FS:           iofs.RealFS{},
		Downloader:   download.NewHTTPDownloader("toolchaindist/test"),
		TempProvider: &temp.OSProvider{Base: t.TempDir()},
		Sink:         notify.NopSink{},
		Clock:        clock.NewMock(),
		TempDirBase:  t.TempDir(),
		ManifestURL:  manifestURL,
		RootPkg:      "rustc",
		RootTarget:   "x86_64-unknown-linux-gnu",
	}
}

func TestUpdate_FreshInstall(t *testing.T) {
	t.Parallel()

	srv, manifestURL := newTestServer(t)
	defer srv.Close()

	p := newParams(t, manifestURL)
	if err := Update(context.Background(), p, diffplan.ChangeSet{}); err != nil {
		t.Fatalf("Update() = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(p.Prefix.Root, "bin", "rustc"))
	if err != nil {
		t.Fatalf("expected rustc to be installed: %v", err)
	}
	if string(got) != "binary-contents" {
		t.Errorf("contents = %q", got)
	}

	store, err := componentsstore.Open(p.Prefix, p.FS)
	if err != nil {
		t.Fatal(err)
	}
	components, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(components) != 1 || components[0].Name != "rustc-x86_64-unknown-linux-gnu" {
		t.Errorf("List() = %+v", components)
	}

	installedPath := filepath.Join(p.Prefix.Root, p.Prefix.MetadataDir, "installed-manifest.yaml")
	if _, err := os.Stat(installedPath); err != nil {
		t.Errorf("expected installed manifest to exist: %v", err)
	}
}

func TestUpdate_Idempotent(t *testing.T) {
	t.Parallel()

	srv, manifestURL := newTestServer(t)
	defer srv.Close()

	p := newParams(t, manifestURL)
	if err := Update(context.Background(), p, diffplan.ChangeSet{}); err != nil {
		t.Fatalf("first Update() = %v", err)
	}
	if err := Update(context.Background(), p, diffplan.ChangeSet{}); err != nil {
		t.Fatalf("second Update() = %v", err)
	}

	store, err := componentsstore.Open(p.Prefix, p.FS)
	if err != nil {
		t.Fatal(err)
	}
	components, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(components) != 1 {
		t.Errorf("List() after repeated Update() = %+v, want exactly one component", components)
	}
}

func TestUpdate_AddExtension(t *testing.T) {
	t.Parallel()

	srv, manifestURL := newExtensionTestServer(t)
	defer srv.Close()

	p := newParams(t, manifestURL)
	if err := Update(context.Background(), p, diffplan.ChangeSet{}); err != nil {
		t.Fatalf("initial Update() = %v", err)
	}

	cs := diffplan.ChangeSet{
		AddExtensions: []manifest.ComponentRef{{Pkg: mdl.Str("rust-src"), Target: mdl.Str("x86_64-unknown-linux-gnu")}},
	}
	if err := Update(context.Background(), p, cs); err != nil {
		t.Fatalf("Update() with AddExtensions = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(p.Prefix.Root, "lib", "rustlib", "src", "rust-src"))
	if err != nil {
		t.Fatalf("expected rust-src to be installed: %v", err)
	}
	if string(got) != "src-contents" {
		t.Errorf("contents = %q", got)
	}

	store, err := componentsstore.Open(p.Prefix, p.FS)
	if err != nil {
		t.Fatal(err)
	}
	components, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(components) != 2 {
		t.Errorf("List() = %+v, want exactly rustc and rust-src, no duplicates", components)
	}
}

func TestUninstall_RemovesEverything(t *testing.T) {
	t.Parallel()

	srv, manifestURL := newTestServer(t)
	defer srv.Close()

	p := newParams(t, manifestURL)
	if err := Update(context.Background(), p, diffplan.ChangeSet{}); err != nil {
		t.Fatalf("Update() = %v", err)
	}

	if err := Uninstall(context.Background(), p); err != nil {
		t.Fatalf("Uninstall() = %v", err)
	}

	if _, err := os.Stat(filepath.Join(p.Prefix.Root, "bin", "rustc")); !os.IsNotExist(err) {
		t.Errorf("expected rustc to be removed, Stat() = %v", err)
	}

	store, err := componentsstore.Open(p.Prefix, p.FS)
	if err != nil {
		t.Fatal(err)
	}
	components, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(components) != 0 {
		t.Errorf("List() after Uninstall() = %+v, want empty", components)
	}
}

func TestUpdate_BadManifestChecksumFails(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.yaml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "version: '2'\npackages: {}\n")
	})
	mux.HandleFunc("/manifest.yaml.sha256", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("0", 64)+"  manifest.yaml\n")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newParams(t, srv.URL+"/manifest.yaml")
	err := Update(context.Background(), p, diffplan.ChangeSet{})
	if err == nil {
		t.Fatal("expected an error for a checksum mismatch, got nil")
	}
	if !strings.Contains(err.Error(), "checksum") {
		t.Errorf("error = %v, want it to mention checksum verification", err)
	}
}
