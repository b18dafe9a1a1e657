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

package manifest

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/abcxyz/toolchaindist/internal/model"
)

// InstalledManifestFileName is the name of the installed-manifest file
// relative to a prefix's metadata directory. Exposed as a variable, not a
// hardcoded literal, so callers embedding this module elsewhere may relocate
// it.
var InstalledManifestFileName = "installed-manifest.yaml"

// InstalledManifest is the subset of a release manifest that is actually
// installed into a prefix, plus the identity of the root package this prefix
// was bootstrapped from.
type InstalledManifest struct {
	Manifest `yaml:",inline"`

	// Root is the package name this installation was originally created for
	// (e.g. "rustc").
	Root model.Str `yaml:"root"`
	// RootTarget is the platform triple this installation targets.
	RootTarget model.Str `yaml:"root_target"`

	// InstalledAt is an RFC 3339 timestamp of the last successful commit that
	// produced this manifest. Empty for a manifest synthesized by Empty and
	// not yet written by a real commit.
	InstalledAt model.Str `yaml:"installed_at"`
}

// ErrMissingRoot is returned when an InstalledManifest names no root
// package, which every real installed-state document must have.
var ErrMissingRoot = errors.New("installed manifest has no root package")

// ParseInstalled decodes an InstalledManifest from r and validates it.
func ParseInstalled(r io.Reader) (*InstalledManifest, error) {
	var im InstalledManifest
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&im); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParsing, err)
	}
	if err := im.Validate(); err != nil {
		return nil, err
	}
	return &im, nil
}

// StringifyInstalled serializes im back to its YAML wire form.
func StringifyInstalled(im *InstalledManifest) ([]byte, error) {
	buf, err := yaml.Marshal((*installedForMarshaling)(im))
	if err != nil {
		return nil, fmt.Errorf("marshaling installed manifest: %w", err)
	}
	return buf, nil
}

type installedForMarshaling InstalledManifest

// UnmarshalYAML implements yaml.Unmarshaler. Note this does NOT delegate to
// Manifest.UnmarshalYAML (which would reject "root"/"root_target" as unknown
// fields); instead it decodes the whole flattened document in one pass.
func (im *InstalledManifest) UnmarshalYAML(n *yaml.Node) error {
	return model.UnmarshalPlain(n, im, &im.Pos)
}

// Validate checks the embedded Manifest plus the root-package invariants.
func (im *InstalledManifest) Validate() error {
	var rootErr error
	if im.Root.Val == "" {
		rootErr = im.Pos.Errorf("field %q is required: %w", "root", ErrMissingRoot)
	}
	errs := errors.Join(
		im.Manifest.Validate(),
		rootErr,
		model.NotZero(&im.Pos, im.RootTarget, "root_target"),
	)
	if im.Root.Val != "" {
		if _, err := im.GetTargetedPackage(im.Root.Val, im.RootTarget.Val); err != nil {
			errs = errors.Join(errs, fmt.Errorf("root package %q target %q: %w", im.Root.Val, im.RootTarget.Val, err))
		}
	}
	return errs
}

// Empty returns a new, valid-shaped InstalledManifest with no packages
// installed, for bootstrapping a first install.
func Empty(rootPkg, rootTarget string) *InstalledManifest {
	return &InstalledManifest{
		Manifest: Manifest{
			Version:  model.Str{Val: SupportedVersions[len(SupportedVersions)-1]},
			Packages: map[string]*Package{},
		},
		Root:       model.Str{Val: rootPkg},
		RootTarget: model.Str{Val: rootTarget},
	}
}

// AllComponents returns every ComponentRef currently considered installed by
// im: the required components of every package/target present in it, plus
// every extension explicitly recorded.
func (im *InstalledManifest) AllComponents() []ComponentRef {
	var out []ComponentRef
	for _, pkg := range im.Packages {
		for _, tp := range pkg.Targets {
			out = append(out, tp.Components...)
			out = append(out, tp.Extensions...)
		}
	}
	return out
}
