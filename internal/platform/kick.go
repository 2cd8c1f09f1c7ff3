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
	"strings"
)

const kickAPI = "https://api.kick.com/public/v1"

// Kick updates a channel through the public Kick API.
type Kick struct {
	api *apiClient
}

// NewKick creates a Kick client. The token must carry channel:write.
func NewKick(accessToken string, opts Options) *Kick {
	return &Kick{
		api: newAPIClient("kick", kickAPI, opts, func(h http.Header) {
			h.Set("Authorization", "Bearer "+accessToken)
		}),
	}
}

func (k *Kick) Name() string { return "kick" }

// SetTitle patches the stream title of the token's channel.
func (k *Kick) SetTitle(ctx context.Context, title string) error {
	return k.api.do(ctx, "set_title", http.MethodPatch, "/channels", nil, map[string]any{"stream_title": title}, nil)
}

// SetCategory looks the category up by name and patches the channel.
func (k *Kick) SetCategory(ctx context.Context, category string) error {
	var out struct {
		Data []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := k.api.do(ctx, "get_category", http.MethodGet, "/categories", url.Values{"q": {category}}, nil, &out); err != nil {
		return err
	}
	if len(out.Data) == 0 {
		return fmt.Errorf("kick: %q: %w", category, ErrCategoryNotFound)
	}
	id := out.Data[0].ID
	// prefer an exact match over the search's first hit
	for _, c := range out.Data {
		if strings.EqualFold(c.Name, category) {
			id = c.ID
			break
		}
	}
	return k.api.do(ctx, "set_category", http.MethodPatch, "/channels", nil, map[string]any{"category_id": id}, nil)
}

// IsLive reports whether the channel slug is streaming.
func (k *Kick) IsLive(ctx context.Context, slug string) (bool, error) {
	var out struct {
		Data []struct {
			Slug   string `json:"slug"`
			Stream *struct {
				IsLive bool `json:"is_live"`
			} `json:"stream"`
		} `json:"data"`
	}
	if err := k.api.do(ctx, "is_live", http.MethodGet, "/channels", url.Values{"slug": {slug}}, nil, &out); err != nil {
		return false, err
	}
	if len(out.Data) == 0 || out.Data[0].Stream == nil {
		return false, nil
	}
	return out.Data[0].Stream.IsLive, nil
}
