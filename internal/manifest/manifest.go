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

// Package manifest implements the release-manifest and installed-manifest
// data model: parsing, validation, and serialization of the YAML documents
// that describe a distribution's packages/components and a prefix's
// installed state.
package manifest

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/abcxyz/toolchaindist/internal/model"
)

// SupportedVersions is the closed set of accepted values for a Manifest's
// "version" field.
var SupportedVersions = []string{"2"}

// Manifest is a release manifest: the set of packages and their per-target
// artifacts available at some point in time.
type Manifest struct {
	Pos model.Pos `yaml:"-"`

	// Version identifies the schema of this document. Currently only "2" is
	// accepted.
	Version model.Str `yaml:"version"`

	// Date is opaque, typically "YYYY-MM-DD". Not interpreted by this package.
	Date model.Str `yaml:"date"`

	// Packages maps a package name (e.g. "rustc") to its release info.
	Packages map[string]*Package `yaml:"packages"`
}

// Package is one named package's release info, across targets.
type Package struct {
	Pos model.Pos `yaml:"-"`

	Version model.Str                  `yaml:"version"`
	Targets map[string]*TargetedPackage `yaml:"targets"`
}

// TargetedPackage is a package's artifact for one platform target triple.
type TargetedPackage struct {
	Pos model.Pos `yaml:"-"`

	Available model.Bool `yaml:"available"`
	URL       model.Str  `yaml:"url"`
	// Hash is the lower-hex SHA-256 of the artifact at URL.
	Hash model.Str `yaml:"hash"`

	// Components is the set of components installed unconditionally whenever
	// this targeted package is installed.
	Components []ComponentRef `yaml:"components,omitempty"`
	// Extensions is the pool of components the user may additionally opt in
	// to.
	Extensions []ComponentRef `yaml:"extensions,omitempty"`
}

// ComponentRef names one component: a (package, target) pair.
type ComponentRef struct {
	Pos model.Pos `yaml:"-"`

	Pkg    model.Str `yaml:"pkg"`
	Target model.Str `yaml:"target"`
}

// Name returns the component's canonical display name, "{pkg}-{target}".
func (c ComponentRef) Name() string {
	return c.Pkg.Val + "-" + c.Target.Val
}

// Equal reports whether two refs name the same component.
func (c ComponentRef) Equal(o ComponentRef) bool {
	return c.Pkg.Val == o.Pkg.Val && c.Target.Val == o.Target.Val
}

var (
	ErrPackageNotFound          = errors.New("package not found in manifest")
	ErrTargetNotFound           = errors.New("target not found for package")
	ErrMissingPackageForComponent = errors.New("component references a package/target not present in this manifest")
	ErrUnsupportedVersion       = errors.New("unsupported manifest version")
	// ErrParsing wraps any failure to decode a manifest document into YAML
	// structure at all (malformed YAML, a document that isn't a mapping,
	// an unknown field). Distinct from validation failures, which require a
	// successfully decoded document to report on.
	ErrParsing = errors.New("parsing manifest")
)

// Parse decodes a Manifest from r and validates it.
func Parse(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(false) // we do our own unknown-field rejection in UnmarshalYAML
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParsing, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Stringify serializes m back to its YAML wire form.
func Stringify(m *Manifest) ([]byte, error) {
	buf, err := yaml.Marshal((*forMarshaling)(m))
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	return buf, nil
}

// forMarshaling is Manifest without its UnmarshalYAML method, so yaml.v3 will
// use plain struct-tag marshaling instead of recursing.
type forMarshaling Manifest

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *Manifest) UnmarshalYAML(n *yaml.Node) error {
	return model.UnmarshalPlain(n, m, &m.Pos)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Package) UnmarshalYAML(n *yaml.Node) error {
	return model.UnmarshalPlain(n, p, &p.Pos)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *TargetedPackage) UnmarshalYAML(n *yaml.Node) error {
	return model.UnmarshalPlain(n, t, &t.Pos)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *ComponentRef) UnmarshalYAML(n *yaml.Node) error {
	return model.UnmarshalPlain(n, c, &c.Pos)
}

// Validate checks required fields and invariant V1: every ComponentRef in any
// components/extensions list resolves to a real (pkg, target) entry in this
// same manifest.
func (m *Manifest) Validate() error {
	errs := errors.Join(
		model.NotZero(&m.Pos, m.Version, "version"),
		checkSupportedVersion(&m.Pos, m.Version),
	)
	for name, pkg := range m.Packages {
		if pkg == nil {
			continue
		}
		if err := pkg.Validate(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("package %q: %w", name, err))
		}
		for triple, tp := range pkg.Targets {
			for _, ref := range append(append([]ComponentRef{}, tp.Components...), tp.Extensions...) {
				if _, err := m.GetTargetedPackage(ref.Pkg.Val, ref.Target.Val); err != nil {
					errs = errors.Join(errs, fmt.Errorf("package %q target %q: component %q: %w", name, triple, ref.Name(), ErrMissingPackageForComponent))
				}
			}
		}
	}
	return errs
}

// Validate checks Package's own required fields.
func (p *Package) Validate() error {
	return model.NotZero(&p.Pos, p.Version, "version")
}

// checkSupportedVersion fails with ErrUnsupportedVersion, checkable via
// errors.Is, unless v names one of SupportedVersions.
func checkSupportedVersion(pos *model.Pos, v model.Str) error {
	if v.Val == "" || slices.Contains(SupportedVersions, v.Val) {
		return nil
	}
	return pos.Errorf("field %q must be one of %v, got %q: %w", "version", SupportedVersions, v.Val, ErrUnsupportedVersion)
}

// GetPackage returns the named package, or ErrPackageNotFound.
func (m *Manifest) GetPackage(name string) (*Package, error) {
	pkg, ok := m.Packages[name]
	if !ok {
		return nil, fmt.Errorf("package %q: %w", name, ErrPackageNotFound)
	}
	return pkg, nil
}

// GetTarget returns pkg's artifact for triple, or ErrTargetNotFound.
func GetTarget(pkg *Package, triple string) (*TargetedPackage, error) {
	tp, ok := pkg.Targets[triple]
	if !ok {
		return nil, fmt.Errorf("target %q: %w", triple, ErrTargetNotFound)
	}
	return tp, nil
}

// GetTargetedPackage is a convenience combining GetPackage and GetTarget.
func (m *Manifest) GetTargetedPackage(pkgName, triple string) (*TargetedPackage, error) {
	pkg, err := m.GetPackage(pkgName)
	if err != nil {
		return nil, err
	}
	return GetTarget(pkg, triple)
}
