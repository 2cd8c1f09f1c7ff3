/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package download

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/friendsincode/loopcast/internal/fetch"
)

// Source is a group to enumerate.
type Source struct {
	Group string
	URL   string
}

// Listing is the outcome of enumerating sources.
type Listing struct {
	Entries map[string][]fetch.Entry
	Errors  map[string]error
	Done    bool
}

type listing struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	entries map[string][]fetch.Entry
	errs    map[string]error
}

// List enumerates the items of each source in the background. Poll the
// outcome with Listing.
func (c *Coordinator) List(ctx context.Context, sources []Source) JobHandle {
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := JobHandle(uuid.NewString())
	l := &listing{
		cancel:  cancel,
		done:    make(chan struct{}),
		entries: make(map[string][]fetch.Entry),
		errs:    make(map[string]error),
	}
	c.mu.Lock()
	c.listings[h] = l
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(l.done)
		var wg sync.WaitGroup
		for _, src := range sources {
			wg.Add(1)
			go func(src Source) {
				defer wg.Done()
				entries, err := c.listSource(lctx, src)
				l.mu.Lock()
				defer l.mu.Unlock()
				if err != nil {
					l.errs[src.Group] = err
					return
				}
				l.entries[src.Group] = entries
			}(src)
		}
		wg.Wait()
	}()
	return h
}

func (c *Coordinator) listSource(ctx context.Context, src Source) ([]fetch.Entry, error) {
	attempts := 0
	var entries []fetch.Entry
	op := func() error {
		attempts++
		settings := c.settings.Current()
		got, err := c.tool.List(ctx, src.URL, cookiesFrom(settings))
		if err == nil {
			entries = got
			return nil
		}
		if fetch.IsPermanent(err) || attempts >= maxAttempts(settings) {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("group", src.Group).Dur("wait", wait).Msg("listing failed, retrying")
	})
	return entries, err
}

// Listing returns the current outcome of a List call.
func (c *Coordinator) Listing(h JobHandle) (Listing, error) {
	c.mu.Lock()
	l := c.listings[h]
	c.mu.Unlock()
	if l == nil {
		return Listing{}, ErrUnknownJob
	}
	// observe done before copying so a finished listing is never reported short
	done := false
	select {
	case <-l.done:
		done = true
	default:
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := Listing{
		Entries: make(map[string][]fetch.Entry, len(l.entries)),
		Errors:  make(map[string]error, len(l.errs)),
		Done:    done,
	}
	for k, v := range l.entries {
		out.Entries[k] = append([]fetch.Entry(nil), v...)
	}
	for k, v := range l.errs {
		out.Errors[k] = v
	}
	return out, nil
}

// CancelListing stops a listing and forgets it without waiting for the
// listing tool to exit.
func (c *Coordinator) CancelListing(h JobHandle) {
	c.mu.Lock()
	l := c.listings[h]
	delete(c.listings, h)
	c.mu.Unlock()
	if l != nil {
		l.cancel()
	}
}
