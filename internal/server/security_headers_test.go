/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	baseline := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
		"Cache-Control":           "no-store",
	}

	tests := []struct {
		name      string
		forwarded string
		wantHSTS  string
	}{
		{name: "plain http", wantHSTS: ""},
		{name: "behind https proxy", forwarded: "https", wantHSTS: "max-age=31536000; includeSubDomains"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/control/skip", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-Proto", tt.forwarded)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			for k, want := range baseline {
				if got := rr.Header().Get(k); got != want {
					t.Fatalf("%s = %q, want %q", k, got, want)
				}
			}
			if got := rr.Header().Get("Strict-Transport-Security"); got != tt.wantHSTS {
				t.Fatalf("Strict-Transport-Security = %q, want %q", got, tt.wantHSTS)
			}
		})
	}
}
