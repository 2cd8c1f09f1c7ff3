/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version carries the build version and watches GitHub for newer
// releases.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is set at build time:
//
//	-X github.com/friendsincode/loopcast/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// GitHubRepo is the repository whose releases are checked.
const GitHubRepo = "friendsincode/loopcast"

// CriticalMarker in a release name or body flags a fetch-tool compatibility fix.
const CriticalMarker = "[yt-dlp-update]"

const defaultCheckPeriod = 6 * time.Hour

// UpdateInfo describes the outcome of the last release check.
type UpdateInfo struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
	Critical        bool
	ReleaseURL      string
	ReleaseNotes    string
	CheckedAt       time.Time
}

type release struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
	Body    string `json:"body"`
}

// Checker polls the latest release and reports each new one once.
type Checker struct {
	logger     zerolog.Logger
	httpClient *http.Client
	releaseURL string
	period     time.Duration
	onUpdate   func(UpdateInfo)

	mu       sync.RWMutex
	info     UpdateInfo
	notified string
	cancel   context.CancelFunc
}

// NewChecker builds a checker. onUpdate may be nil.
func NewChecker(logger zerolog.Logger, onUpdate func(UpdateInfo)) *Checker {
	return &Checker{
		logger:     logger.With().Str("component", "update-checker").Logger(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		releaseURL: "https://api.github.com/repos/" + GitHubRepo + "/releases/latest",
		period:     defaultCheckPeriod,
		onUpdate:   onUpdate,
		info:       UpdateInfo{CurrentVersion: Version},
	}
}

// Start checks now and then every period until Stop or ctx ends.
func (c *Checker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.period)
		defer ticker.Stop()
		for {
			if _, err := c.Check(ctx); err != nil && ctx.Err() == nil {
				c.logger.Debug().Err(err).Msg("release check failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends periodic checks.
func (c *Checker) Stop() {
	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Info returns the result of the last successful check.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Check fetches the latest release once. onUpdate fires the first time a
// newer version is seen.
func (c *Checker) Check(ctx context.Context) (UpdateInfo, error) {
	rel, err := c.latest(ctx)
	if err != nil {
		return UpdateInfo{}, err
	}
	latest := strings.TrimPrefix(rel.TagName, "v")
	if latest == "" {
		return UpdateInfo{}, fmt.Errorf("latest release has no tag")
	}

	info := UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: compareVersions(Version, latest) < 0,
		Critical:        strings.Contains(rel.Name+" "+rel.Body, CriticalMarker),
		ReleaseURL:      rel.HTMLURL,
		ReleaseNotes:    firstLine(rel.Body, 200),
		CheckedAt:       time.Now(),
	}

	c.mu.Lock()
	c.info = info
	fresh := info.UpdateAvailable && c.notified != latest
	if fresh {
		c.notified = latest
	}
	c.mu.Unlock()

	if fresh {
		c.logger.Info().
			Str("current", Version).
			Str("latest", latest).
			Bool("critical", info.Critical).
			Str("url", info.ReleaseURL).
			Msg("new version available")
		if c.onUpdate != nil {
			c.onUpdate(info)
		}
	}
	return info, nil
}

func (c *Checker) latest(ctx context.Context) (*release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.releaseURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "loopcast/"+Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch latest release: status %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &rel, nil
}

// compareVersions orders two x.y.z versions; pre-release and build suffixes
// are ignored.
func compareVersions(a, b string) int {
	pa, pb := parseVersion(a), parseVersion(b)
	for i := range pa {
		switch {
		case pa[i] < pb[i]:
			return -1
		case pa[i] > pb[i]:
			return 1
		}
	}
	return 0
}

func parseVersion(v string) [3]int {
	v = strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil {
			break
		}
		out[i] = n
	}
	return out
}

func firstLine(s string, max int) string {
	s, _, _ = strings.Cut(s, "\n")
	s = strings.TrimSpace(s)
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
