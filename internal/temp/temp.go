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

// Package temp provides the TempProvider capability that the transaction
// package uses to stash backups of files and directories it's about to
// overwrite or remove.
package temp

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/benbjohnson/clock"

	"github.com/abcxyz/pkg/logging"
)

// Provider produces uniquely-named temporary files and directories whose
// lifetime is tied to the caller's scope: a Transaction releases everything
// it allocated on commit, and consumes (moves from) it on rollback.
type Provider interface {
	NewFile() (*os.File, error)
	NewDir() (string, error)
	// Cleanup removes every temp resource this provider has handed out that
	// is still present. Called by a Transaction on Commit, once backups are
	// no longer needed.
	Cleanup(ctx context.Context) error
}

// OSProvider implements Provider against the real filesystem, rooted under
// base (os.TempDir() if base is empty).
type OSProvider struct {
	Base string

	// Clock supplies the timestamp embedded in every temp name, so that tests
	// can inject a fake clock and assert on exact backup paths instead of
	// matching a random suffix. Defaults to the real clock if nil.
	Clock clock.Clock

	created []string
}

func (p *OSProvider) clock() clock.Clock {
	if p.Clock == nil {
		return clock.New()
	}
	return p.Clock
}

func (p *OSProvider) pattern() string {
	return fmt.Sprintf("toolchaindist-backup-%d-*", p.clock().Now().UnixNano())
}

func (p *OSProvider) NewFile() (*os.File, error) {
	f, err := os.CreateTemp(p.Base, p.pattern())
	if err != nil {
		return nil, fmt.Errorf("CreateTemp(): %w", err)
	}
	p.created = append(p.created, f.Name())
	return f, nil
}

func (p *OSProvider) NewDir() (string, error) {
	dir, err := os.MkdirTemp(p.Base, p.pattern())
	if err != nil {
		return "", fmt.Errorf("MkdirTemp(): %w", err)
	}
	p.created = append(p.created, dir)
	return dir, nil
}

// Cleanup removes any temp file/dir this provider created that is still
// present (i.e. was not consumed by a rollback's move-back). Errors from
// individual removals are joined rather than aborting early, so a single
// already-gone entry doesn't prevent cleaning up the rest.
func (p *OSProvider) Cleanup(ctx context.Context) error {
	logger := logging.FromContext(ctx).With("logger", "temp.OSProvider")
	var errs error
	for _, path := range p.created {
		if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = errors.Join(errs, fmt.Errorf("RemoveAll(%s): %w", path, err))
			continue
		}
		logger.DebugContext(ctx, "cleaned up temp backup", "path", path)
	}
	p.created = nil
	return errs
}
