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

// Package update implements the "update" subcommand: install or update a
// toolchain prefix to match a distribution manifest, optionally changing
// which extensions are installed.
package update

import (
	"github.com/abcxyz/pkg/cli"
)

// Flags are the "update" subcommand's flags.
type Flags struct {
	// Prefix is the root directory the toolchain is (or will be) installed
	// into.
	Prefix string

	// ManifestURL is the distribution manifest to install from. A ".sha256"
	// sidecar at this URL plus that suffix is used to verify it.
	ManifestURL string

	// RootPkg and RootTarget identify the toolchain to install, e.g. "rustc"
	// and "x86_64-unknown-linux-gnu".
	RootPkg    string
	RootTarget string

	// AddExtensions and RemoveExtensions name extensions, as "pkg@target", to
	// add to or drop from what's currently installed.
	AddExtensions    []string
	RemoveExtensions []string

	// TempDir overrides where downloaded and unpacked artifacts are staged.
	TempDir string
}

func (f *Flags) Register(set *cli.FlagSet) {
	s := set.NewSection("UPDATE OPTIONS")

	s.StringVar(&cli.StringVar{
		Name:    "prefix",
		Example: "/opt/toolchains/rust",
		Target:  &f.Prefix,
		Usage:   "Required. The installation root.",
	})

	s.StringVar(&cli.StringVar{
		Name:    "manifest-url",
		Example: "https://dist.example.com/channel/stable/manifest.yaml",
		Target:  &f.ManifestURL,
		Usage:   "Required. The distribution manifest to install from.",
	})

	s.StringVar(&cli.StringVar{
		Name:    "root-pkg",
		Example: "rustc",
		Target:  &f.RootPkg,
		Usage:   "Required. The package this prefix is bootstrapped around.",
	})

	s.StringVar(&cli.StringVar{
		Name:    "root-target",
		Example: "x86_64-unknown-linux-gnu",
		Target:  &f.RootTarget,
		Usage:   "Required. The platform triple to install for.",
	})

	s.StringSliceVar(&cli.StringSliceVar{
		Name:    "add-extension",
		Example: "rust-src@x86_64-unknown-linux-gnu",
		Target:  &f.AddExtensions,
		Usage:   "An extension component to add; may be repeated.",
	})

	s.StringSliceVar(&cli.StringSliceVar{
		Name:    "remove-extension",
		Example: "rust-src@x86_64-unknown-linux-gnu",
		Target:  &f.RemoveExtensions,
		Usage:   "An extension component to remove; may be repeated.",
	})

	s.StringVar(&cli.StringVar{
		Name:    "temp-dir",
		Target:  &f.TempDir,
		Default: "",
		Usage:   "Directory to stage downloaded and unpacked artifacts in; defaults to the OS temp directory.",
	})
}
