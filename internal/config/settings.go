/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMinGroups             = 2
	DefaultMaxGroups             = 4
	DefaultDownloadRetryAttempts = 3
	DefaultTitleTemplate         = "24/7 {GROUPS}"
	DefaultTitleLimit            = 140
	GroupsPlaceholder            = "{GROUPS}"
)

// GroupSettings describes one selectable content source.
type GroupSettings struct {
	Name       string            `yaml:"name"`
	URL        string            `yaml:"url"`
	Enabled    bool              `yaml:"enabled"`
	Priority   int               `yaml:"priority"`
	Categories map[string]string `yaml:"categories,omitempty"` // platform -> category
}

// CookieSettings controls credential-assisted fetching.
type CookieSettings struct {
	Enabled bool   `yaml:"enabled"`
	Browser string `yaml:"browser,omitempty"`
	File    string `yaml:"file,omitempty"`
}

// Settings is the hot-swappable runtime configuration. A *Settings handed out by
// Holder is never mutated; callers copy before editing.
type Settings struct {
	TitleTemplate          string            `yaml:"title_template"`
	TitleLimit             int               `yaml:"title_limit"`
	MinGroups              int               `yaml:"min_groups"`
	MaxGroups              int               `yaml:"max_groups"`
	DownloadRetryAttempts  int               `yaml:"download_retry_attempts"`
	NotifyVideoTransitions bool              `yaml:"notify_video_transitions"`
	DeleteConsumed         *bool             `yaml:"delete_consumed,omitempty"`
	LiveCheckHandles       map[string]string `yaml:"live_check_handles,omitempty"` // platform -> streamer handle
	Cookies                CookieSettings    `yaml:"cookies"`
	Groups                 []GroupSettings   `yaml:"groups"`
}

// DefaultSettings returns the settings used when the file omits a value.
func DefaultSettings() Settings {
	return Settings{
		TitleTemplate:         DefaultTitleTemplate,
		TitleLimit:            DefaultTitleLimit,
		MinGroups:             DefaultMinGroups,
		MaxGroups:             DefaultMaxGroups,
		DownloadRetryAttempts: DefaultDownloadRetryAttempts,
	}
}

// ParseSettings decodes YAML onto the defaults and validates the result.
func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode settings: %v", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSettings reads and validates the settings file.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return ParseSettings(data)
}

// Validate checks invariants. Errors wrap ErrInvalid.
func (s *Settings) Validate() error {
	if s.MinGroups < 1 {
		return fmt.Errorf("%w: min_groups must be at least 1", ErrInvalid)
	}
	if s.MaxGroups < s.MinGroups {
		return fmt.Errorf("%w: max_groups (%d) below min_groups (%d)", ErrInvalid, s.MaxGroups, s.MinGroups)
	}
	if s.DownloadRetryAttempts < 1 {
		return fmt.Errorf("%w: download_retry_attempts must be at least 1", ErrInvalid)
	}
	if s.TitleLimit <= 0 {
		return fmt.Errorf("%w: title_limit must be positive", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(s.Groups))
	for i, g := range s.Groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return fmt.Errorf("%w: group %d has no name", ErrInvalid, i)
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%w: duplicate group %q", ErrInvalid, name)
		}
		seen[key] = struct{}{}
		if g.URL == "" {
			return fmt.Errorf("%w: group %q has no url", ErrInvalid, name)
		}
	}
	return nil
}

// DeleteConsumedFiles reports whether the detector removes played files.
func (s *Settings) DeleteConsumedFiles() bool {
	return s.DeleteConsumed == nil || *s.DeleteConsumed
}

// Group returns the named group, if configured.
func (s *Settings) Group(name string) (GroupSettings, bool) {
	for _, g := range s.Groups {
		if strings.EqualFold(g.Name, name) {
			return g, true
		}
	}
	return GroupSettings{}, false
}

// Clone returns a deep copy safe for editing.
func (s *Settings) Clone() *Settings {
	out := *s
	if s.DeleteConsumed != nil {
		v := *s.DeleteConsumed
		out.DeleteConsumed = &v
	}
	out.LiveCheckHandles = cloneMap(s.LiveCheckHandles)
	out.Groups = make([]GroupSettings, len(s.Groups))
	for i, g := range s.Groups {
		g.Categories = cloneMap(g.Categories)
		out.Groups[i] = g
	}
	return &out
}

// Marshal encodes settings as YAML.
func (s *Settings) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
