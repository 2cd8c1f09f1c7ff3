/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
)

const twitchAPI = "https://api.twitch.tv/helix"

// Twitch updates a channel through the Helix API with a pre-issued user token.
type Twitch struct {
	api           *apiClient
	broadcasterID string

	mu    sync.Mutex
	games map[string]string // category name -> game id
}

// NewTwitch creates a Helix client.
func NewTwitch(clientID, accessToken, broadcasterID string, opts Options) *Twitch {
	return &Twitch{
		api: newAPIClient("twitch", twitchAPI, opts, func(h http.Header) {
			h.Set("Client-Id", clientID)
			h.Set("Authorization", "Bearer "+accessToken)
		}),
		broadcasterID: broadcasterID,
		games:         make(map[string]string),
	}
}

func (t *Twitch) Name() string { return "twitch" }

// SetTitle patches the channel title.
func (t *Twitch) SetTitle(ctx context.Context, title string) error {
	q := url.Values{"broadcaster_id": {t.broadcasterID}}
	return t.api.do(ctx, "set_title", http.MethodPatch, "/channels", q, map[string]string{"title": title}, nil)
}

// SetCategory resolves the game id by name and patches the channel.
func (t *Twitch) SetCategory(ctx context.Context, category string) error {
	id, err := t.gameID(ctx, category)
	if err != nil {
		return err
	}
	q := url.Values{"broadcaster_id": {t.broadcasterID}}
	return t.api.do(ctx, "set_category", http.MethodPatch, "/channels", q, map[string]string{"game_id": id}, nil)
}

func (t *Twitch) gameID(ctx context.Context, name string) (string, error) {
	t.mu.Lock()
	id, ok := t.games[name]
	t.mu.Unlock()
	if ok {
		return id, nil
	}

	var out struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := t.api.do(ctx, "get_game", http.MethodGet, "/games", url.Values{"name": {name}}, nil, &out); err != nil {
		return "", err
	}
	if len(out.Data) == 0 {
		return "", fmt.Errorf("twitch: %q: %w", name, ErrCategoryNotFound)
	}
	t.mu.Lock()
	t.games[name] = out.Data[0].ID
	t.mu.Unlock()
	return out.Data[0].ID, nil
}

// IsLive reports whether the login is streaming.
func (t *Twitch) IsLive(ctx context.Context, login string) (bool, error) {
	var out struct {
		Data []struct {
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := t.api.do(ctx, "is_live", http.MethodGet, "/streams", url.Values{"user_login": {login}}, nil, &out); err != nil {
		return false, err
	}
	return len(out.Data) > 0, nil
}
