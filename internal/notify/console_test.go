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

package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestConsoleSink_Notify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		ev   Event
		want []string
	}{
		{
			name: "rolling_back",
			ev:   Event{Kind: KindRollingBack, Message: "disk full"},
			want: []string{"rolling back:", "disk full"},
		},
		{
			name: "non_fatal_error",
			ev:   Event{Kind: KindNonFatalError, Message: "restoring backup", Err: errors.New("boom")},
			want: []string{"warning:", "restoring backup", "boom"},
		},
		{
			name: "extension_not_installed",
			ev:   Event{Kind: KindExtensionNotInstalled, Component: "rust-src-x86_64-unknown-linux-gnu"},
			want: []string{"rust-src-x86_64-unknown-linux-gnu", "not installed"},
		},
		{
			name: "missing_installed_component",
			ev:   Event{Kind: KindMissingInstalledComponent, Message: "no record of", Component: "rustc-x86_64"},
			want: []string{"no record of", "rustc-x86_64"},
		},
		{
			name: "plan_computed_without_diff",
			ev:   Event{Kind: KindPlanComputed, Message: "1.79.0 -> 1.80.0"},
			want: []string{"1.79.0 -> 1.80.0"},
		},
		{
			name: "plan_computed_with_diff",
			ev:   Event{Kind: KindPlanComputed, Message: "1.79.0 -> 1.80.0", RegistryDiff: "+rust-src"},
			want: []string{"1.79.0 -> 1.80.0", "+rust-src"},
		},
		{
			name: "checksum_validity",
			ev:   Event{Kind: KindChecksumValidity, Path: "/opt/rust/.cache/rustc.tar.gz"},
			want: []string{"checksum ok:", "/opt/rust/.cache/rustc.tar.gz"},
		},
		{
			name: "progress",
			ev:   Event{Kind: KindProgress, Message: "downloading package"},
			want: []string{"downloading package"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			ConsoleSink{W: &buf}.Notify(context.Background(), tc.ev)

			got := buf.String()
			for _, want := range tc.want {
				if !strings.Contains(got, want) {
					t.Errorf("output %q does not contain %q", got, want)
				}
			}
		})
	}
}

func TestNopSink(t *testing.T) {
	t.Parallel()
	NopSink{}.Notify(context.Background(), Event{Kind: KindProgress, Message: "ignored"})
}
