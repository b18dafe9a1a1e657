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

// Package download provides the default net/http-backed implementation of
// the Downloader capability the orchestrator consumes, plus the
// manifest+sidecar checksum-verified fetch helper.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/abcxyz/pkg/logging"
)

// ErrChecksumFailed is returned when a downloaded artifact's computed
// SHA-256 doesn't match the expected value.
var ErrChecksumFailed = errors.New("checksum verification failed")

// Downloader fetches url into destPath, optionally feeding every byte
// through hasher (nil if the caller doesn't want streaming verification).
type Downloader interface {
	Get(ctx context.Context, url, destPath string, hasher hash.Hash) error
}

// HTTPDownloader is the default Downloader, backed by net/http.
type HTTPDownloader struct {
	Client    *http.Client
	UserAgent string
}

// NewHTTPDownloader returns an HTTPDownloader with sane defaults.
func NewHTTPDownloader(userAgent string) *HTTPDownloader {
	return &HTTPDownloader{Client: http.DefaultClient, UserAgent: userAgent}
}

// Get implements Downloader.
func (h *HTTPDownloader) Get(ctx context.Context, url, destPath string, hasher hash.Hash) error {
	logger := logging.FromContext(ctx).With("logger", "download.HTTPDownloader")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", destPath, err)
	}
	defer out.Close()

	var w io.Writer = out
	if hasher != nil {
		w = io.MultiWriter(out, hasher)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	logger.DebugContext(ctx, "downloaded file", "url", url, "bytes", n, "destination", destPath)
	return nil
}

// FetchWithChecksum downloads url to destPath and verifies its SHA-256
// against wantHashHex (lower-hex), failing with ErrChecksumFailed on
// mismatch.
func FetchWithChecksum(ctx context.Context, d Downloader, url, destPath, wantHashHex string) error {
	h := sha256.New()
	if err := d.Get(ctx, url, destPath, h); err != nil {
		return err
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, wantHashHex) {
		return fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumFailed, url, got, wantHashHex)
	}
	return nil
}

// FetchSidecarHash downloads a ".sha256" sidecar file and returns its first
// 64 hex characters (the lower-hex SHA-256 digest).
func FetchSidecarHash(ctx context.Context, d Downloader, sidecarURL, tmpPath string) (string, error) {
	if err := d.Get(ctx, sidecarURL, tmpPath, nil); err != nil {
		return "", fmt.Errorf("fetching sidecar %s: %w", sidecarURL, err)
	}
	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return "", fmt.Errorf("reading sidecar %s: %w", tmpPath, err)
	}
	line := strings.SplitN(string(data), "\n", 2)[0]
	fields := strings.Fields(line)
	if len(fields) == 0 || len(fields[0]) != sha256.Size*2 {
		return "", fmt.Errorf("sidecar %s: malformed checksum line %q", sidecarURL, line)
	}
	return strings.ToLower(fields[0]), nil
}
