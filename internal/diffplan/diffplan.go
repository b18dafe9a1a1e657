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

// Package diffplan computes, from an installed manifest, a new distribution
// manifest, and a requested change set, the exact set of package downloads
// and component installs/uninstalls required to realize that change. It is
// a pure function: no I/O, no mutation of its inputs.
package diffplan

import (
	"errors"
	"fmt"

	"github.com/abcxyz/pkg/sets"
	"github.com/jinzhu/copier"

	"github.com/abcxyz/toolchaindist/internal/manifest"
)

// ErrExtensionNotFound is returned when ChangeSet.AddExtensions names a
// component absent from the new distribution manifest's extension pool.
var ErrExtensionNotFound = errors.New("requested extension not found in distribution manifest")

// ChangeSet is the user-requested delta to apply on top of whatever is
// currently installed.
type ChangeSet struct {
	AddExtensions    []manifest.ComponentRef
	RemoveExtensions []manifest.ComponentRef
}

// RequiredPackage is one package artifact that must be downloaded to satisfy
// a Plan.
type RequiredPackage struct {
	URL  string
	Hash string
}

// Plan is the output of Compute: what to fetch, what to remove, what to add.
type Plan struct {
	Packages    []RequiredPackage
	ToInstall   []manifest.ComponentRef
	ToUninstall []manifest.ComponentRef
}

func refKey(r manifest.ComponentRef) string { return r.Pkg.Val + "@" + r.Target.Val }

func keys(refs []manifest.ComponentRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, refKey(r))
	}
	return out
}

func byKey(refs []manifest.ComponentRef) map[string]manifest.ComponentRef {
	m := make(map[string]manifest.ComponentRef, len(refs))
	for _, r := range refs {
		m[refKey(r)] = r
	}
	return m
}

// Compute diffs old against newDist under cs, one (package, target) pair at
// a time (see diffOnePkgTarget), and returns the resulting Plan. old may be a freshly synthesized empty InstalledManifest (for a
// first install); newDist is the freshly fetched distribution manifest. It
// also returns the InstalledManifest that would result from applying the
// returned Plan, for the caller to persist after a successful commit.
func Compute(old *manifest.InstalledManifest, newDist *manifest.Manifest, cs ChangeSet) (*Plan, *manifest.InstalledManifest, error) {
	// Work from a deep copy of old so that nothing here can alias, and
	// therefore accidentally mutate, the caller's InstalledManifest.
	var oldCopy manifest.InstalledManifest
	if err := copier.Copy(&oldCopy, old); err != nil {
		return nil, nil, fmt.Errorf("copying installed manifest: %w", err)
	}

	rootPkg, rootTarget := oldCopy.Root.Val, oldCopy.RootTarget.Val

	oldExtensions := extensionsOf(&oldCopy.Manifest, rootPkg, rootTarget)
	newTP, err := newDist.GetTargetedPackage(rootPkg, rootTarget)
	if err != nil {
		return nil, nil, fmt.Errorf("distribution manifest: %w", err)
	}
	newExtensionPool := byKey(newTP.Extensions)

	for _, want := range cs.AddExtensions {
		if _, ok := newExtensionPool[refKey(want)]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", ErrExtensionNotFound, want.Name())
		}
	}

	newExtKeys := sets.Subtract(keys(oldExtensions), keys(cs.RemoveExtensions))
	newExtKeys = sets.Union(newExtKeys, keys(cs.AddExtensions))

	newExtByKey := byKey(newTP.Extensions)
	oldExtByKey := byKey(oldExtensions)
	var newExtensions []manifest.ComponentRef
	for _, k := range newExtKeys {
		if r, ok := newExtByKey[k]; ok {
			newExtensions = append(newExtensions, r)
		} else if r, ok := oldExtByKey[k]; ok {
			// Still installed but dropped from the new distribution manifest;
			// kept in the set so its uninstall is still scheduled below via
			// the per-(pkg,target) comparison, not silently forgotten.
			newExtensions = append(newExtensions, r)
		}
	}

	p := &Plan{}
	final := manifest.Empty(rootPkg, rootTarget)

	// Every (pkg, target) that needs to exist in the result: the root, plus
	// whatever package each element of newExtensions belongs to.
	wantPkgTargets := map[[2]string]bool{{rootPkg, rootTarget}: true}
	for _, e := range newExtensions {
		wantPkgTargets[[2]string{e.Pkg.Val, e.Target.Val}] = true
	}

	seenPkgTargets := map[[2]string]bool{}
	for pt := range wantPkgTargets {
		seenPkgTargets[pt] = true
		isRoot := pt[0] == rootPkg && pt[1] == rootTarget
		if err := diffOnePkgTarget(p, final, &oldCopy.Manifest, newDist, pt[0], pt[1], isRoot, newExtensions); err != nil {
			return nil, nil, err
		}
	}
	for pt := range oldPkgTargets(&oldCopy.Manifest) {
		if seenPkgTargets[pt] {
			continue
		}
		pkg, err := oldCopy.Manifest.GetPackage(pt[0])
		if err != nil {
			continue
		}
		tp, err := manifest.GetTarget(pkg, pt[1])
		if err != nil {
			continue
		}
		p.ToUninstall = append(p.ToUninstall, tp.Components...)
	}

	// Keep each artifact URL once, in first-scheduled order.
	seenURLs := map[string]bool{}
	packages := p.Packages[:0]
	for _, rp := range p.Packages {
		if !seenURLs[rp.URL] {
			seenURLs[rp.URL] = true
			packages = append(packages, rp)
		}
	}
	p.Packages = packages

	return p, final, nil
}

func extensionsOf(m *manifest.Manifest, pkgName, target string) []manifest.ComponentRef {
	tp, err := m.GetTargetedPackage(pkgName, target)
	if err != nil {
		return nil
	}
	return tp.Extensions
}

func oldPkgTargets(m *manifest.Manifest) map[[2]string]bool {
	out := map[[2]string]bool{}
	for pkgName, pkg := range m.Packages {
		for target := range pkg.Targets {
			out[[2]string{pkgName, target}] = true
		}
	}
	return out
}

// diffOnePkgTarget compares old and new manifests at (pkgName, target),
// appends the resulting schedule to p, and records the final component set
// for this (pkgName, target) into final. isRoot packages are always wanted
// in the result; non-root packages are wanted only if one of
// selectedExtensions belongs to them, which the caller has already filtered
// for by only calling this for (pkg,target) pairs present in
// wantPkgTargets. The diff itself only ever compares a package's own
// Components against its own Components: an extension is realized entirely
// through its owning package getting its own, independent entry here, never
// by folding it into another package's component set.
func diffOnePkgTarget(p *Plan, final *manifest.InstalledManifest, old, newDist *manifest.Manifest, pkgName, target string, isRoot bool, selectedExtensions []manifest.ComponentRef) error {
	oldTP, oldErr := old.GetTargetedPackage(pkgName, target)
	newTP, newErr := newDist.GetTargetedPackage(pkgName, target)

	switch {
	case oldErr != nil && newErr != nil:
		return fmt.Errorf("package %q target %q not found in either manifest", pkgName, target)

	case oldErr != nil: // present only in new: full install
		if !newTP.Available.Val && isRoot {
			return fmt.Errorf("root package %q target %q is not available", pkgName, target)
		}
		finalSet := wantedComponents(newTP)
		p.ToInstall = append(p.ToInstall, finalSet...)
		p.Packages = append(p.Packages, RequiredPackage{URL: newTP.URL.Val, Hash: newTP.Hash.Val})
		recordFinal(final, newDist, pkgName, target, newTP, finalSet, isRoot, selectedExtensions)
		return nil

	case newErr != nil: // present only in old: full uninstall
		p.ToUninstall = append(p.ToUninstall, oldTP.Components...)
		return nil
	}

	if oldTP.Hash.Val != newTP.Hash.Val {
		// Hash-triggered reinstall: everything old out, everything new in.
		p.ToUninstall = append(p.ToUninstall, oldTP.Components...)
		finalSet := wantedComponents(newTP)
		p.ToInstall = append(p.ToInstall, finalSet...)
		p.Packages = append(p.Packages, RequiredPackage{URL: newTP.URL.Val, Hash: newTP.Hash.Val})
		recordFinal(final, newDist, pkgName, target, newTP, finalSet, isRoot, selectedExtensions)
		return nil
	}

	oldSet := oldTP.Components
	newSet := wantedComponents(newTP)

	toRemove := setSubtract(oldSet, newSet)
	toAdd := setSubtract(newSet, oldSet)

	p.ToUninstall = append(p.ToUninstall, toRemove...)
	p.ToInstall = append(p.ToInstall, toAdd...)
	if len(toAdd) > 0 {
		p.Packages = append(p.Packages, RequiredPackage{URL: newTP.URL.Val, Hash: newTP.Hash.Val})
	}
	recordFinal(final, newDist, pkgName, target, newTP, newSet, isRoot, selectedExtensions)
	return nil
}

// recordFinal adds (pkgName, target) to final with Components set to
// exactly components (this package's own required set, never an
// extension's). Extensions is recorded only for the root (pkgName,
// target): the subset of newTP's own extension pool currently selected, so
// the next Compute call can recover which extensions were requested. A
// non-root entry's Extensions is always empty, mirroring that it was
// reached only because it owns one selected extension component, not
// because it has extensions of its own in play.
func recordFinal(final *manifest.InstalledManifest, newDist *manifest.Manifest, pkgName, target string, newTP *manifest.TargetedPackage, components []manifest.ComponentRef, isRoot bool, selectedExtensions []manifest.ComponentRef) {
	if len(components) == 0 {
		return
	}

	var extensions []manifest.ComponentRef
	if isRoot {
		selected := byKey(selectedExtensions)
		for _, e := range newTP.Extensions {
			if _, ok := selected[refKey(e)]; ok {
				extensions = append(extensions, e)
			}
		}
	}

	version := newTP.Hash // fallback; overwritten below if the package record is found
	if pkg, err := newDist.GetPackage(pkgName); err == nil {
		version = pkg.Version
	}

	existing, ok := final.Packages[pkgName]
	if !ok {
		existing = &manifest.Package{Version: version, Targets: map[string]*manifest.TargetedPackage{}}
		final.Packages[pkgName] = existing
	}
	existing.Targets[target] = &manifest.TargetedPackage{
		Available:  newTP.Available,
		URL:        newTP.URL,
		Hash:       newTP.Hash,
		Components: components,
		Extensions: extensions,
	}
}

// wantedComponents is a targeted package's own required components. It
// never folds in any of tp.Extensions: an extension is realized solely by
// its owning package getting its own independent entry in wantPkgTargets.
func wantedComponents(tp *manifest.TargetedPackage) []manifest.ComponentRef {
	return append([]manifest.ComponentRef{}, tp.Components...)
}

func setSubtract(a, b []manifest.ComponentRef) []manifest.ComponentRef {
	bKeys := byKey(b)
	var out []manifest.ComponentRef
	for _, r := range a {
		if _, ok := bKeys[refKey(r)]; !ok {
			out = append(out, r)
		}
	}
	return out
}
