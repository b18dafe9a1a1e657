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

// Package orchestrator drives a full update or uninstall: fetching and
// verifying a distribution manifest, computing a plan against the currently
// installed state, and applying that plan through a single transaction.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/benbjohnson/clock"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/toolchaindist/internal/componentsource"
	"github.com/abcxyz/toolchaindist/internal/componentsstore"
	"github.com/abcxyz/toolchaindist/internal/diffplan"
	"github.com/abcxyz/toolchaindist/internal/download"
	"github.com/abcxyz/toolchaindist/internal/iofs"
	"github.com/abcxyz/toolchaindist/internal/manifest"
	"github.com/abcxyz/toolchaindist/internal/model"
	"github.com/abcxyz/toolchaindist/internal/notify"
	"github.com/abcxyz/toolchaindist/internal/prefix"
	"github.com/abcxyz/toolchaindist/internal/temp"
	"github.com/abcxyz/toolchaindist/internal/transaction"
)

// Params bundles the collaborators and identifying information one
// orchestrator run needs. Every field is required unless noted.
type Params struct {
	Prefix       prefix.Prefix
	FS           iofs.FS
	Downloader   download.Downloader
	TempProvider temp.Provider
	Sink         notify.Sink

	// Clock stamps InstalledAt on every manifest this orchestrator writes.
	// Defaults to the real clock if nil.
	Clock clock.Clock

	// TempDirBase is where unpacked package artifacts and downloaded files are
	// staged before being copied into the prefix.
	TempDirBase string

	// ManifestURL is the distribution manifest to fetch. A ".sha256" sidecar
	// at the same URL plus that suffix is fetched first and used to verify
	// the manifest body itself.
	ManifestURL string

	// RootPkg and RootTarget identify the toolchain this prefix is, or will
	// be, bootstrapped around.
	RootPkg    string
	RootTarget string
}

func (p *Params) sink() notify.Sink {
	if p.Sink == nil {
		return notify.NopSink{}
	}
	return p.Sink
}

func (p *Params) clock() clock.Clock {
	if p.Clock == nil {
		return clock.New()
	}
	return p.Clock
}

// Update fetches the current distribution manifest, computes the plan
// required to apply cs on top of whatever is currently installed, and
// applies it. A first install (nothing yet present under p.Prefix) is just a
// Update call against an empty ChangeSet.
func Update(ctx context.Context, p *Params, cs diffplan.ChangeSet) error {
	logger := logging.FromContext(ctx).With("logger", "orchestrator")

	store, err := componentsstore.Open(p.Prefix, p.FS)
	if err != nil {
		return fmt.Errorf("opening component store: %w", err)
	}

	old, err := loadOrBootstrap(p)
	if err != nil {
		return err
	}
	warnAboutMissingRemovals(ctx, p, old, cs)

	newDist, err := fetchManifest(ctx, p)
	if err != nil {
		return err
	}

	plan, final, err := diffplan.Compute(old, newDist, cs)
	if err != nil {
		return fmt.Errorf("computing plan: %w", err)
	}
	final.InstalledAt = model.Str{Val: p.clock().Now().UTC().Format(time.RFC3339)}
	notifyPlan(ctx, p, old, final)

	sources, cleanup, err := fetchPackages(ctx, p, plan)
	defer cleanup()
	if err != nil {
		return err
	}

	tx := transaction.Open(p.Prefix, p.FS, p.TempProvider, p.sink())
	defer tx.Close(ctx)

	if err := uninstallComponents(ctx, store, tx, p.sink(), plan.ToUninstall); err != nil {
		return fmt.Errorf("uninstall phase: %w", err)
	}
	if err := installComponents(ctx, store, tx, sources, plan.ToInstall); err != nil {
		return fmt.Errorf("install phase: %w", err)
	}
	if err := writeFinalManifest(ctx, p, tx, final); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	logger.InfoContext(ctx, "update complete",
		"installed", len(plan.ToInstall), "removed", len(plan.ToUninstall))
	return nil
}

// Uninstall removes every currently installed component for the root
// package/target, equivalent to an Update whose new distribution manifest
// has nothing installable left for this prefix.
func Uninstall(ctx context.Context, p *Params) error {
	store, err := componentsstore.Open(p.Prefix, p.FS)
	if err != nil {
		return fmt.Errorf("opening component store: %w", err)
	}
	components, err := store.List()
	if err != nil {
		return fmt.Errorf("listing installed components: %w", err)
	}

	tx := transaction.Open(p.Prefix, p.FS, p.TempProvider, p.sink())
	defer tx.Close(ctx)

	for _, c := range components {
		if err := c.Uninstall(ctx, tx); err != nil {
			return fmt.Errorf("uninstalling %q: %w", c.Name, err)
		}
	}

	installedPath, err := p.Prefix.MetaJoin(manifest.InstalledManifestFileName)
	if err != nil {
		return err
	}
	if _, statErr := p.FS.Stat(installedPath); statErr == nil {
		empty := manifest.Empty(p.RootPkg, p.RootTarget)
		empty.InstalledAt = model.Str{Val: p.clock().Now().UTC().Format(time.RFC3339)}
		if err := writeFinalManifest(ctx, p, tx, empty); err != nil {
			return fmt.Errorf("clearing installed manifest: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// warnAboutMissingRemovals notifies for every ChangeSet.RemoveExtensions
// entry that names something not currently installed, since diffplan.Compute
// itself is a pure function and can't emit notifications.
func warnAboutMissingRemovals(ctx context.Context, p *Params, old *manifest.InstalledManifest, cs diffplan.ChangeSet) {
	installed := make(map[string]bool)
	for _, ref := range old.AllComponents() {
		installed[ref.Name()] = true
	}
	for _, ref := range cs.RemoveExtensions {
		if !installed[ref.Name()] {
			p.sink().Notify(ctx, notify.Event{
				Kind:      notify.KindExtensionNotInstalled,
				Component: ref.Name(),
			})
		}
	}
}

func loadOrBootstrap(p *Params) (*manifest.InstalledManifest, error) {
	installedPath, err := p.Prefix.MetaJoin(manifest.InstalledManifestFileName)
	if err != nil {
		return nil, err
	}
	data, err := p.FS.ReadFile(installedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return manifest.Empty(p.RootPkg, p.RootTarget), nil
		}
		return nil, fmt.Errorf("reading installed manifest: %w", err)
	}
	im, err := manifest.ParseInstalled(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("parsing installed manifest: %w", err)
	}
	return im, nil
}

func fetchManifest(ctx context.Context, p *Params) (*manifest.Manifest, error) {
	sidecarTmp, err := os.CreateTemp(p.TempDirBase, "toolchaindist-manifest-sha-")
	if err != nil {
		return nil, fmt.Errorf("staging sidecar checksum: %w", err)
	}
	sidecarTmp.Close()
	defer os.Remove(sidecarTmp.Name())

	wantHash, err := download.FetchSidecarHash(ctx, p.Downloader, p.ManifestURL+".sha256", sidecarTmp.Name())
	if err != nil {
		return nil, fmt.Errorf("fetching manifest checksum: %w", err)
	}

	manifestTmp, err := os.CreateTemp(p.TempDirBase, "toolchaindist-manifest-")
	if err != nil {
		return nil, fmt.Errorf("staging manifest: %w", err)
	}
	manifestTmp.Close()
	defer os.Remove(manifestTmp.Name())

	if err := download.FetchWithChecksum(ctx, p.Downloader, p.ManifestURL, manifestTmp.Name(), wantHash); err != nil {
		return nil, fmt.Errorf("fetching distribution manifest: %w", err)
	}

	f, err := os.Open(manifestTmp.Name())
	if err != nil {
		return nil, fmt.Errorf("opening fetched manifest: %w", err)
	}
	defer f.Close()

	m, err := manifest.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parsing distribution manifest: %w", err)
	}
	return m, nil
}

// fetchPackages downloads and unpacks every package plan requires, keyed by
// URL so that a package shared by more than one (pkg, target) in the plan is
// only fetched once. The returned cleanup function must always be called,
// even on error, to remove staged artifacts.
func fetchPackages(ctx context.Context, p *Params, plan *diffplan.Plan) (map[string]componentsource.PackageSource, func(), error) {
	sources := make(map[string]componentsource.PackageSource, len(plan.Packages))
	var tarSources []*componentsource.TarGzSource
	cleanup := func() {
		for _, t := range tarSources {
			_ = t.Cleanup()
		}
	}

	for _, rp := range plan.Packages {
		if _, ok := sources[rp.URL]; ok {
			continue
		}
		artifactTmp, err := os.CreateTemp(p.TempDirBase, "toolchaindist-artifact-")
		if err != nil {
			return nil, cleanup, fmt.Errorf("staging package artifact: %w", err)
		}
		artifactPath := artifactTmp.Name()
		artifactTmp.Close()
		defer os.Remove(artifactPath)

		if err := download.FetchWithChecksum(ctx, p.Downloader, rp.URL, artifactPath, rp.Hash); err != nil {
			return nil, cleanup, fmt.Errorf("fetching package %s: %w", rp.URL, err)
		}

		f, err := os.Open(artifactPath)
		if err != nil {
			return nil, cleanup, fmt.Errorf("opening fetched package %s: %w", rp.URL, err)
		}
		src, err := componentsource.NewTarGzSource(ctx, f, p.TempDirBase)
		f.Close()
		if err != nil {
			return nil, cleanup, fmt.Errorf("unpacking package %s: %w", rp.URL, err)
		}
		tarSources = append(tarSources, src)
		sources[rp.URL] = src

		if contentHash, err := src.ContentHash(); err == nil {
			p.sink().Notify(ctx, notify.Event{
				Kind:    notify.KindChecksumValidity,
				Path:    rp.URL,
				Message: fmt.Sprintf("unpacked tree content hash %s", contentHash),
			})
		}
	}
	return sources, cleanup, nil
}

func uninstallComponents(ctx context.Context, store *componentsstore.Store, tx *transaction.Transaction, sink notify.Sink, refs []manifest.ComponentRef) error {
	for _, ref := range refs {
		c, found, err := store.Find(ref.Name())
		if err != nil {
			return err
		}
		if !found {
			sink.Notify(ctx, notify.Event{
				Kind:      notify.KindMissingInstalledComponent,
				Component: ref.Name(),
				Message:   "plan named a component to uninstall that was not found in the component store",
			})
			continue
		}
		if err := c.Uninstall(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func installComponents(ctx context.Context, store *componentsstore.Store, tx *transaction.Transaction, sources map[string]componentsource.PackageSource, refs []manifest.ComponentRef) error {
	for _, ref := range refs {
		src := findSourceFor(sources, ref)
		if src == nil {
			return fmt.Errorf("%w: no fetched package source contains %q", componentsource.ErrComponentNotFound, ref.Name())
		}
		if err := src.Install(ctx, store, ref.Name(), ref.Pkg.Val, tx); err != nil {
			return fmt.Errorf("installing %q: %w", ref.Name(), err)
		}
	}
	return nil
}

// findSourceFor returns whichever fetched package source actually contains
// ref, since a single plan may pull components from more than one package
// artifact.
func findSourceFor(sources map[string]componentsource.PackageSource, ref manifest.ComponentRef) componentsource.PackageSource {
	for _, src := range sources {
		if src.Contains(ref.Name(), ref.Pkg.Val) {
			return src
		}
	}
	return nil
}

func writeFinalManifest(ctx context.Context, p *Params, tx *transaction.Transaction, final *manifest.InstalledManifest) error {
	buf, err := manifest.StringifyInstalled(final)
	if err != nil {
		return fmt.Errorf("serializing installed manifest: %w", err)
	}
	rel := filepath.Join(p.Prefix.MetadataDir, manifest.InstalledManifestFileName)
	w, err := tx.ModifyFile(ctx, rel)
	if err != nil {
		return fmt.Errorf("writing installed manifest: %w", err)
	}
	defer w.Close()
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing installed manifest: %w", err)
	}
	return nil
}

// notifyPlan emits a KindPlanComputed event carrying a human-readable diff of
// the component registry (old vs. final) and, best-effort, a semver
// upgrade/downgrade classification of the root package's version.
func notifyPlan(ctx context.Context, p *Params, old, final *manifest.InstalledManifest) {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(registrySummary(old), registrySummary(final), false)

	msg := classifyVersionChange(old, final)

	p.sink().Notify(ctx, notify.Event{
		Kind:         notify.KindPlanComputed,
		Message:      msg,
		RegistryDiff: dmp.DiffPrettyText(diffs),
	})
}

func registrySummary(im *manifest.InstalledManifest) string {
	var sb strings.Builder
	for _, ref := range im.AllComponents() {
		sb.WriteString(ref.Name())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// classifyVersionChange compares the root package's version before and after,
// using semver when both sides parse as one; falls back to a plain
// old->new message otherwise, since not every distribution versions its
// packages with strict semver.
func classifyVersionChange(old, final *manifest.InstalledManifest) string {
	oldVer, oldErr := rootVersion(old)
	newVer, newErr := rootVersion(final)
	if oldErr != nil || newErr != nil || oldVer == "" || newVer == "" {
		return fmt.Sprintf("root package version: %q -> %q", oldVer, newVer)
	}

	oldSem, err1 := semver.NewVersion(oldVer)
	newSem, err2 := semver.NewVersion(newVer)
	if err1 != nil || err2 != nil {
		return fmt.Sprintf("root package version: %q -> %q", oldVer, newVer)
	}

	switch newSem.Compare(oldSem) {
	case 0:
		return fmt.Sprintf("root package version unchanged at %s", oldVer)
	case 1:
		return fmt.Sprintf("root package upgraded %s -> %s", oldVer, newVer)
	default:
		return fmt.Sprintf("root package downgraded %s -> %s", oldVer, newVer)
	}
}

func rootVersion(im *manifest.InstalledManifest) (string, error) {
	pkg, err := im.GetPackage(im.Root.Val)
	if err != nil {
		return "", nil //nolint:nilerr // absent root package just means "no version yet", not an error worth surfacing here
	}
	return pkg.Version.Val, nil
}
