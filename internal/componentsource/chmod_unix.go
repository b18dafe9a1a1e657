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

//go:build !windows

package componentsource

import (
	"os"
	"strings"
)

// filePermission applies the executable-bit policy: files under bin/, or
// explicitly flagged ":executable" in manifest.in, get 0755; everything else
// gets 0644.
func filePermission(rel string, flaggedExecutable bool) os.FileMode {
	if flaggedExecutable || strings.HasPrefix(rel, "bin/") {
		return 0o755
	}
	return 0o644
}
