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

package diffplan

import (
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/abcxyz/toolchaindist/internal/manifest"
	mdl "github.com/abcxyz/toolchaindist/internal/testutil/model"
)

func ref(pkg, target string) manifest.ComponentRef {
	return manifest.ComponentRef{Pkg: mdl.Str(pkg), Target: mdl.Str(target)}
}

func sortRefs(refs []manifest.ComponentRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name() < refs[j].Name() })
}

var ignorePos = cmpopts.IgnoreFields(manifest.ComponentRef{}, "Pos")

func dist(t *testing.T) *manifest.Manifest {
	t.Helper()
	return &manifest.Manifest{
		Version: mdl.Str("2"),
		Packages: map[string]*manifest.Package{
			"rustc": {
				Version: mdl.Str("1.80.0"),
				Targets: map[string]*manifest.TargetedPackage{
					"x86_64-unknown-linux-gnu": {
						Available: mdl.Bool(true),
						URL:       mdl.Str("https://example.com/rustc.tar.gz"),
						Hash:      mdl.Str("hash-rustc-v2"),
						Components: []manifest.ComponentRef{
							ref("rustc", "x86_64-unknown-linux-gnu"),
						},
						Extensions: []manifest.ComponentRef{
							ref("rust-src", "x86_64-unknown-linux-gnu"),
							ref("clippy", "x86_64-unknown-linux-gnu"),
						},
					},
				},
			},
			"rust-src": {
				Version: mdl.Str("1.80.0"),
				Targets: map[string]*manifest.TargetedPackage{
					"x86_64-unknown-linux-gnu": {
						Available: mdl.Bool(true),
						URL:       mdl.Str("https://example.com/rust-src.tar.gz"),
						Hash:      mdl.Str("hash-rust-src-v1"),
						Components: []manifest.ComponentRef{
							ref("rust-src", "x86_64-unknown-linux-gnu"),
						},
					},
				},
			},
			"clippy": {
				Version: mdl.Str("1.80.0"),
				Targets: map[string]*manifest.TargetedPackage{
					"x86_64-unknown-linux-gnu": {
						Available: mdl.Bool(true),
						URL:       mdl.Str("https://example.com/clippy.tar.gz"),
						Hash:      mdl.Str("hash-clippy-v1"),
						Components: []manifest.ComponentRef{
							ref("clippy", "x86_64-unknown-linux-gnu"),
						},
					},
				},
			},
		},
	}
}

func TestCompute_FreshInstall(t *testing.T) {
	t.Parallel()

	old := manifest.Empty("rustc", "x86_64-unknown-linux-gnu")
	plan, final, err := Compute(old, dist(t), ChangeSet{})
	if err != nil {
		t.Fatalf("Compute() = %v", err)
	}

	wantInstall := []manifest.ComponentRef{ref("rustc", "x86_64-unknown-linux-gnu")}
	sortRefs(plan.ToInstall)
	if diff := cmp.Diff(wantInstall, plan.ToInstall, ignorePos); diff != "" {
		t.Errorf("ToInstall mismatch (-want +got):\n%s", diff)
	}
	if len(plan.ToUninstall) != 0 {
		t.Errorf("ToUninstall = %v, want empty", plan.ToUninstall)
	}
	if len(plan.Packages) != 1 || plan.Packages[0].URL != "https://example.com/rustc.tar.gz" {
		t.Errorf("Packages = %+v", plan.Packages)
	}

	if _, err := final.GetTargetedPackage("rustc", "x86_64-unknown-linux-gnu"); err != nil {
		t.Errorf("final manifest missing installed root package: %v", err)
	}
}

func TestCompute_AddExtension(t *testing.T) {
	t.Parallel()

	old := manifest.Empty("rustc", "x86_64-unknown-linux-gnu")
	_, rootAfterInstall, err := Compute(old, dist(t), ChangeSet{})
	if err != nil {
		t.Fatal(err)
	}

	plan, final, err := Compute(rootAfterInstall, dist(t), ChangeSet{
		AddExtensions: []manifest.ComponentRef{ref("rust-src", "x86_64-unknown-linux-gnu")},
	})
	if err != nil {
		t.Fatalf("Compute() = %v", err)
	}

	// rustc itself is unchanged (same hash, same own components) and must
	// not be rescheduled, and rust-src must be scheduled exactly once, not
	// once via the root's own diff and again via its own independent entry.
	wantInstall := []manifest.ComponentRef{ref("rust-src", "x86_64-unknown-linux-gnu")}
	sortRefs(plan.ToInstall)
	if diff := cmp.Diff(wantInstall, plan.ToInstall, ignorePos); diff != "" {
		t.Errorf("ToInstall mismatch (-want +got):\n%s", diff)
	}

	foundPkg := false
	for _, p := range plan.Packages {
		if p.URL == "https://example.com/rust-src.tar.gz" {
			foundPkg = true
		}
	}
	if !foundPkg {
		t.Errorf("Packages = %+v, want rust-src's package scheduled for download", plan.Packages)
	}

	tp, err := final.GetTargetedPackage("rustc", "x86_64-unknown-linux-gnu")
	if err != nil {
		t.Fatal(err)
	}
	foundExt := false
	for _, e := range tp.Extensions {
		if e.Equal(ref("rust-src", "x86_64-unknown-linux-gnu")) {
			foundExt = true
		}
	}
	if !foundExt {
		t.Errorf("final extensions = %v, want rust-src recorded", tp.Extensions)
	}
}

func TestCompute_RemoveExtension(t *testing.T) {
	t.Parallel()

	old := manifest.Empty("rustc", "x86_64-unknown-linux-gnu")
	_, withExt, err := Compute(old, dist(t), ChangeSet{
		AddExtensions: []manifest.ComponentRef{ref("rust-src", "x86_64-unknown-linux-gnu")},
	})
	if err != nil {
		t.Fatal(err)
	}

	plan, final, err := Compute(withExt, dist(t), ChangeSet{
		RemoveExtensions: []manifest.ComponentRef{ref("rust-src", "x86_64-unknown-linux-gnu")},
	})
	if err != nil {
		t.Fatalf("Compute() = %v", err)
	}

	foundUninstall := false
	for _, r := range plan.ToUninstall {
		if r.Equal(ref("rust-src", "x86_64-unknown-linux-gnu")) {
			foundUninstall = true
		}
	}
	if !foundUninstall {
		t.Errorf("ToUninstall = %v, want it to contain rust-src", plan.ToUninstall)
	}

	if _, err := final.GetTargetedPackage("rust-src", "x86_64-unknown-linux-gnu"); err == nil {
		t.Error("final manifest should no longer record rust-src as installed")
	}
}

func TestCompute_AddExtensionNotInDistribution(t *testing.T) {
	t.Parallel()

	old := manifest.Empty("rustc", "x86_64-unknown-linux-gnu")
	_, _, err := Compute(old, dist(t), ChangeSet{
		AddExtensions: []manifest.ComponentRef{ref("nonexistent", "x86_64-unknown-linux-gnu")},
	})
	if !errors.Is(err, ErrExtensionNotFound) {
		t.Errorf("expected ErrExtensionNotFound, got %v", err)
	}
}

func TestCompute_HashTriggeredReinstall(t *testing.T) {
	t.Parallel()

	old := manifest.Empty("rustc", "x86_64-unknown-linux-gnu")
	_, installed, err := Compute(old, dist(t), ChangeSet{})
	if err != nil {
		t.Fatal(err)
	}

	updated := dist(t)
	updated.Packages["rustc"].Version = mdl.Str("1.81.0")
	updated.Packages["rustc"].Targets["x86_64-unknown-linux-gnu"].Hash = mdl.Str("hash-rustc-v3")

	plan, final, err := Compute(installed, updated, ChangeSet{})
	if err != nil {
		t.Fatalf("Compute() = %v", err)
	}

	foundUninstall, foundInstall := false, false
	for _, r := range plan.ToUninstall {
		if r.Equal(ref("rustc", "x86_64-unknown-linux-gnu")) {
			foundUninstall = true
		}
	}
	for _, r := range plan.ToInstall {
		if r.Equal(ref("rustc", "x86_64-unknown-linux-gnu")) {
			foundInstall = true
		}
	}
	if !foundUninstall || !foundInstall {
		t.Errorf("expected a full reinstall of rustc, ToUninstall=%v ToInstall=%v", plan.ToUninstall, plan.ToInstall)
	}

	tp, err := final.GetTargetedPackage("rustc", "x86_64-unknown-linux-gnu")
	if err != nil {
		t.Fatal(err)
	}
	if tp.Hash.Val != "hash-rustc-v3" {
		t.Errorf("final hash = %q, want the updated hash", tp.Hash.Val)
	}
}

func TestCompute_PackageDroppedFromDistribution(t *testing.T) {
	t.Parallel()

	old := manifest.Empty("rustc", "x86_64-unknown-linux-gnu")
	_, withExt, err := Compute(old, dist(t), ChangeSet{
		AddExtensions: []manifest.ComponentRef{ref("clippy", "x86_64-unknown-linux-gnu")},
	})
	if err != nil {
		t.Fatal(err)
	}

	updated := dist(t)
	delete(updated.Packages, "clippy")
	updated.Packages["rustc"].Targets["x86_64-unknown-linux-gnu"].Extensions = []manifest.ComponentRef{
		ref("rust-src", "x86_64-unknown-linux-gnu"),
	}

	plan, _, err := Compute(withExt, updated, ChangeSet{})
	if err != nil {
		t.Fatalf("Compute() = %v", err)
	}

	found := false
	for _, r := range plan.ToUninstall {
		if r.Equal(ref("clippy", "x86_64-unknown-linux-gnu")) {
			found = true
		}
	}
	if !found {
		t.Errorf("ToUninstall = %v, want clippy uninstalled since it was dropped from the distribution", plan.ToUninstall)
	}
}
