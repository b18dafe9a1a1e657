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

// Package uninstall implements the "uninstall" subcommand: remove every
// installed component from a prefix.
package uninstall

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/abcxyz/pkg/cli"

	"github.com/abcxyz/toolchaindist/internal/download"
	"github.com/abcxyz/toolchaindist/internal/iofs"
	"github.com/abcxyz/toolchaindist/internal/notify"
	"github.com/abcxyz/toolchaindist/internal/orchestrator"
	"github.com/abcxyz/toolchaindist/internal/prefix"
	"github.com/abcxyz/toolchaindist/internal/temp"
)

// Flags are the "uninstall" subcommand's flags.
type Flags struct {
	Prefix     string
	RootPkg    string
	RootTarget string
	TempDir    string
}

func (f *Flags) Register(set *cli.FlagSet) {
	s := set.NewSection("UNINSTALL OPTIONS")

	s.StringVar(&cli.StringVar{
		Name:    "prefix",
		Example: "/opt/toolchains/rust",
		Target:  &f.Prefix,
		Usage:   "Required. The installation root to remove everything from.",
	})

	s.StringVar(&cli.StringVar{
		Name:    "root-pkg",
		Example: "rustc",
		Target:  &f.RootPkg,
		Usage:   "Required. The package this prefix was bootstrapped around.",
	})

	s.StringVar(&cli.StringVar{
		Name:    "root-target",
		Example: "x86_64-unknown-linux-gnu",
		Target:  &f.RootTarget,
		Usage:   "Required. The platform triple this prefix targets.",
	})

	s.StringVar(&cli.StringVar{
		Name:    "temp-dir",
		Target:  &f.TempDir,
		Default: "",
		Usage:   "Directory to stage rollback backups in; defaults to the OS temp directory.",
	})
}

// Command implements "toolchaindist uninstall".
type Command struct {
	cli.BaseCommand
	flags Flags
}

// Desc implements cli.Command.
func (c *Command) Desc() string {
	return "remove every installed component from a prefix"
}

func (c *Command) Help() string {
	return `
Usage: {{ COMMAND }} [options]

The {{ COMMAND }} command removes every component currently installed under
--prefix, leaving the prefix's metadata directory in its empty-but-valid
state.
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

	p := &orchestrator.Params{
		Prefix:       prefix.New(c.flags.Prefix),
		FS:           &iofs.RealFS{},
		Downloader:   download.NewHTTPDownloader("toolchaindist/1"),
		TempProvider: &temp.OSProvider{Base: c.flags.TempDir, Clock: clock.New()},
		Sink:         notify.ConsoleSink{W: c.Stdout()},
		Clock:        clock.New(),
		TempDirBase:  c.flags.TempDir,
		RootPkg:      c.flags.RootPkg,
		RootTarget:   c.flags.RootTarget,
	}

	return orchestrator.Uninstall(ctx, p) //nolint:wrapcheck
}
