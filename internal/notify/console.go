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
	"context"
	"fmt"
	"io"
)

// ConsoleSink writes every event to W as a single human-readable line. It's
// the default Sink for the command-line entry point.
type ConsoleSink struct {
	W io.Writer
}

func (s ConsoleSink) Notify(_ context.Context, ev Event) {
	switch ev.Kind {
	case KindRollingBack:
		fmt.Fprintf(s.W, "rolling back: %s\n", ev.Message)
	case KindNonFatalError:
		fmt.Fprintf(s.W, "warning: %s: %v\n", ev.Message, ev.Err)
	case KindExtensionNotInstalled:
		fmt.Fprintf(s.W, "warning: extension %q was not installed, nothing to remove\n", ev.Component)
	case KindMissingInstalledComponent:
		fmt.Fprintf(s.W, "warning: %s: %s\n", ev.Message, ev.Component)
	case KindPlanComputed:
		fmt.Fprintf(s.W, "%s\n", ev.Message)
		if ev.RegistryDiff != "" {
			fmt.Fprintf(s.W, "%s\n", ev.RegistryDiff)
		}
	case KindChecksumValidity:
		fmt.Fprintf(s.W, "checksum ok: %s\n", ev.Path)
	case KindProgress:
		fmt.Fprintf(s.W, "%s\n", ev.Message)
	}
}
