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

package update

import (
	"context"
	"fmt"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/toolchaindist/internal/diffplan"
	"github.com/abcxyz/toolchaindist/internal/download"
	"github.com/abcxyz/toolchaindist/internal/iofs"
	"github.com/abcxyz/toolchaindist/internal/manifest"
	"github.com/abcxyz/toolchaindist/internal/model"
	"github.com/abcxyz/toolchaindist/internal/notify"
	"github.com/abcxyz/toolchaindist/internal/orchestrator"
	"github.com/abcxyz/toolchaindist/internal/prefix"
	"github.com/abcxyz/toolchaindist/internal/temp"
)

// Command implements "toolchaindist update".
type Command struct {
	cli.BaseCommand
	flags Flags
}

// Desc implements cli.Command.
func (c *Command) Desc() string {
	return "install or update a toolchain prefix against a distribution manifest"
}

func (c *Command) Help() string {
	return `
Usage: {{ COMMAND }} [options]

The {{ COMMAND }} command installs a toolchain into --prefix if nothing is
installed there yet, or brings an existing installation in line with the
manifest at --manifest-url, including any --add-extension/--remove-extension
changes requested.
`
}

func (c *Command) Flags() *cli.FlagSet {
	set := c.NewFlagSet()
	c.flags.Register(set)
	return set
}

func (c *Command) Run(ctx context.Context, args []string) error {
	if err := c.Flags().Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	cs, err := changeSetFromFlags(c.flags)
	if err != nil {
		return err
	}

	p := &orchestrator.Params{
		Prefix:       prefix.New(c.flags.Prefix),
		FS:           &iofs.RealFS{},
		Downloader:   download.NewHTTPDownloader("toolchaindist/1"),
		TempProvider: &temp.OSProvider{Base: c.flags.TempDir, Clock: clock.New()},
		Sink:         notify.ConsoleSink{W: c.Stdout()},
		Clock:        clock.New(),
		TempDirBase:  c.flags.TempDir,
		ManifestURL:  c.flags.ManifestURL,
		RootPkg:      c.flags.RootPkg,
		RootTarget:   c.flags.RootTarget,
	}

	return orchestrator.Update(ctx, p, cs) //nolint:wrapcheck
}

func changeSetFromFlags(f Flags) (diffplan.ChangeSet, error) {
	add, err := parseRefs(f.AddExtensions)
	if err != nil {
		return diffplan.ChangeSet{}, err
	}
	remove, err := parseRefs(f.RemoveExtensions)
	if err != nil {
		return diffplan.ChangeSet{}, err
	}
	return diffplan.ChangeSet{AddExtensions: add, RemoveExtensions: remove}, nil
}

// parseRefs parses "pkg@target" strings into ComponentRefs.
func parseRefs(raw []string) ([]manifest.ComponentRef, error) {
	out := make([]manifest.ComponentRef, 0, len(raw))
	for _, r := range raw {
		pkg, target, ok := strings.Cut(r, "@")
		if !ok || pkg == "" || target == "" {
			return nil, fmt.Errorf("malformed extension reference %q: want \"pkg@target\"", r)
		}
		out = append(out, manifest.ComponentRef{
			Pkg:    model.Str{Val: pkg},
			Target: model.Str{Val: target},
		})
	}
	return out, nil
}
