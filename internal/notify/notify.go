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

// Package notify defines the one-way progress/diagnostic callback that the
// transactional installer and orchestrator use to report non-fatal
// conditions without routing them through the error return value.
package notify

import "context"

// Kind is a closed set of event kinds a Sink may receive.
type Kind int

const (
	// KindProgress reports coarse progress through a long operation, e.g.
	// "downloading package", "applying plan".
	KindProgress Kind = iota
	// KindChecksumValidity reports the outcome of a hash check.
	KindChecksumValidity
	// KindRollingBack reports that a transaction is rolling back, and why.
	KindRollingBack
	// KindNonFatalError reports an error that doesn't abort the enclosing
	// operation, such as a rollback step failing to restore one file.
	KindNonFatalError
	// KindExtensionNotInstalled reports that a requested removal named an
	// extension that wasn't actually installed.
	KindExtensionNotInstalled
	// KindMissingInstalledComponent reports that the plan named a component
	// to uninstall that the components store had no record of.
	KindMissingInstalledComponent
	// KindPlanComputed reports the diff/plan result, including a unified diff
	// of the component registry for human consumption.
	KindPlanComputed
)

// Event is a single notification. Only the fields relevant to Kind are
// populated; the rest are zero.
type Event struct {
	Kind Kind

	Message string

	// Component names a component this event concerns, when applicable.
	Component string

	// Path names a filesystem path this event concerns, when applicable.
	Path string

	// Err is the underlying error for KindNonFatalError events.
	Err error

	// RegistryDiff is a unified-diff-style string for KindPlanComputed events.
	RegistryDiff string
}

// Sink receives notifications. Implementations must not block for long, and
// must not panic.
type Sink interface {
	Notify(ctx context.Context, ev Event)
}

// NopSink discards every event. Useful as a default when the caller doesn't
// care about progress reporting.
type NopSink struct{}

func (NopSink) Notify(context.Context, Event) {}
