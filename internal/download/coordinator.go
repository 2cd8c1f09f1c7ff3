/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package download runs fetches off the orchestrator tick. Callers enqueue a
// session's items and poll progress; nothing here blocks the caller.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/fetch"
	"github.com/friendsincode/loopcast/internal/models"
	"github.com/friendsincode/loopcast/internal/telemetry"
)

// Ledger is the completion ledger the coordinator consults and feeds.
type Ledger interface {
	LedgerLookup(ctx context.Context, itemID string) (*models.LedgerEntry, error)
	RecordFetched(ctx context.Context, sessionID, itemID, path string) error
	ReleaseLedger(ctx context.Context, itemIDs []string) error
}

// SettingsSource yields the current settings snapshot.
type SettingsSource interface {
	Current() *config.Settings
}

// JobHandle identifies an enqueued job.
type JobHandle string

// ItemState is the coordinator's view of one item.
type ItemState string

const (
	StatePending     ItemState = "pending"
	StateDownloading ItemState = "downloading"
	StateStaged      ItemState = "staged"
	StateFailed      ItemState = "failed"
	// StateConsumed: the ledger says the item was already played.
	StateConsumed ItemState = "consumed"
)

// Item is one unit of work.
type Item struct {
	ID        string
	GroupName string
	SourceURL string
	SourceKey string
	Ordering  int
}

// Result reports one item's outcome.
type Result struct {
	ItemID    string
	GroupName string
	State     ItemState
	Paths     []string
	Attempts  int
	Err       error
}

// Progress summarizes a job.
type Progress struct {
	Completed int
	Failed    int
	Pending   int
	Done      bool
}

// Options configures a Coordinator.
type Options struct {
	StagingDir     string
	MaxParallel    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type job struct {
	id        JobHandle
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu       sync.Mutex
	order    []string
	results  map[string]*Result
	recorded []string // ledger entries written by this job

	// cancelled and finished decide which of Cancel and the worker releases
	// the ledger; exactly one of them sees both set.
	cancelled bool
	finished  bool
}

// Coordinator owns background fetch jobs.
type Coordinator struct {
	tool     fetch.Tool
	ledger   Ledger
	settings SettingsSource
	opts     Options
	logger   zerolog.Logger

	mu       sync.Mutex
	jobs     map[JobHandle]*job
	listings map[JobHandle]*listing
	wg       sync.WaitGroup
}

// New creates a coordinator.
func New(tool fetch.Tool, ledger Ledger, settings SettingsSource, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 2
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 8 * time.Second
	}
	return &Coordinator{
		tool:     tool,
		ledger:   ledger,
		settings: settings,
		opts:     opts,
		logger:   logger.With().Str("component", "download").Logger(),
		jobs:     make(map[JobHandle]*job),
		listings: make(map[JobHandle]*listing),
	}
}

// GroupDir is the staging subdirectory of a group.
func (c *Coordinator) GroupDir(group string) string {
	return filepath.Join(c.opts.StagingDir, GroupSlug(group))
}

var slugUnsafe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// GroupSlug makes a group name safe as a directory name.
func GroupSlug(group string) string {
	s := strings.Trim(slugUnsafe.ReplaceAllString(group, "_"), "._")
	if s == "" {
		s = "group"
	}
	return s
}

// Enqueue starts fetching items for sessionID and returns immediately.
func (c *Coordinator) Enqueue(ctx context.Context, sessionID string, items []Item) JobHandle {
	jctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		id:        JobHandle(uuid.NewString()),
		sessionID: sessionID,
		cancel:    cancel,
		done:      make(chan struct{}),
		results:   make(map[string]*Result, len(items)),
	}
	for _, it := range items {
		j.order = append(j.order, it.ID)
		j.results[it.ID] = &Result{ItemID: it.ID, GroupName: it.GroupName, State: StatePending}
	}

	c.mu.Lock()
	c.jobs[j.id] = j
	c.mu.Unlock()

	c.logger.Info().Str("job", string(j.id)).Str("session_id", sessionID).Int("items", len(items)).Msg("download job enqueued")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(j.done)
		g, gctx := errgroup.WithContext(jctx)
		g.SetLimit(c.opts.MaxParallel)
		for _, it := range items {
			it := it
			g.Go(func() error {
				c.fetchItem(gctx, j, it)
				return nil
			})
		}
		_ = g.Wait()
		if j.finish() {
			c.releaseRecorded(j)
			return
		}
		p := j.progress()
		c.logger.Info().
			Str("job", string(j.id)).
			Int("completed", p.Completed).
			Int("failed", p.Failed).
			Msg("download job finished")
	}()
	return j.id
}

func (c *Coordinator) fetchItem(ctx context.Context, j *job, it Item) {
	if ctx.Err() != nil {
		return
	}
	if c.fromLedger(ctx, j, it) {
		return
	}

	j.set(it.ID, func(r *Result) { r.State = StateDownloading })
	telemetry.DownloadsInFlight.Inc()
	defer telemetry.DownloadsInFlight.Dec()

	dest := c.GroupDir(it.GroupName)
	attempts := 0
	var paths []string
	op := func() error {
		attempts++
		// re-read every attempt so an operator can unblock a stuck item
		settings := c.settings.Current()
		req := fetch.Request{
			SourceURL:      it.SourceURL,
			DestDir:        dest,
			OutputTemplate: fmt.Sprintf("%03d_%%(title).80s [%%(id)s].%%(ext)s", it.Ordering),
			ArchiveFile:    filepath.Join(dest, "archive.txt"),
			ID:             it.SourceKey,
			Cookies:        cookiesFrom(settings),
		}
		fctx, span := telemetry.StartSpan(ctx, "download.fetch",
			telemetry.AttrItemID.String(it.ID),
			telemetry.AttrGroup.String(it.GroupName),
		)
		got, err := c.tool.Fetch(fctx, req)
		telemetry.EndSpan(span, err)
		if err == nil {
			paths = got
			return nil
		}
		j.set(it.ID, func(r *Result) { r.Attempts = attempts; r.Err = err })
		if fetch.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		if attempts >= maxAttempts(settings) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxInterval = c.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	notify := func(err error, wait time.Duration) {
		telemetry.DownloadAttemptsTotal.WithLabelValues("retry").Inc()
		c.logger.Warn().Err(err).Str("item_id", it.ID).Int("attempt", attempts).Dur("wait", wait).Msg("fetch failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err != nil {
		if ctx.Err() != nil {
			j.set(it.ID, func(r *Result) { r.State = StatePending; r.Attempts = attempts })
			return
		}
		telemetry.DownloadAttemptsTotal.WithLabelValues("failed").Inc()
		c.logger.Error().Err(err).Str("item_id", it.ID).Int("attempts", attempts).Msg("item failed")
		j.set(it.ID, func(r *Result) { r.State = StateFailed; r.Attempts = attempts; r.Err = err })
		return
	}

	telemetry.DownloadAttemptsTotal.WithLabelValues("staged").Inc()
	if err := c.ledger.RecordFetched(context.WithoutCancel(ctx), j.sessionID, it.ID, paths[0]); err != nil {
		c.logger.Warn().Err(err).Str("item_id", it.ID).Msg("ledger write failed")
	} else {
		j.mu.Lock()
		j.recorded = append(j.recorded, it.ID)
		j.mu.Unlock()
	}
	j.set(it.ID, func(r *Result) {
		r.State = StateStaged
		r.Paths = paths
		r.Attempts = attempts
		r.Err = nil
	})
}

// fromLedger settles an item without fetching when the ledger already has it.
func (c *Coordinator) fromLedger(ctx context.Context, j *job, it Item) bool {
	entry, err := c.ledger.LedgerLookup(ctx, it.ID)
	if err != nil || entry == nil {
		return false
	}
	switch entry.Kind {
	case models.LedgerConsumed:
		j.set(it.ID, func(r *Result) { r.State = StateConsumed })
		return true
	case models.LedgerFetched:
		if entry.Path == "" {
			return false
		}
		if _, err := os.Stat(entry.Path); err != nil {
			return false
		}
		j.set(it.ID, func(r *Result) {
			r.State = StateStaged
			r.Paths = []string{entry.Path}
		})
		return true
	}
	return false
}

// Progress reports a job's counts. ok is false for an unknown handle.
func (c *Coordinator) Progress(h JobHandle) (Progress, bool) {
	j := c.job(h)
	if j == nil {
		return Progress{}, false
	}
	return j.progress(), true
}

// Results returns per-item outcomes in enqueue order.
func (c *Coordinator) Results(h JobHandle) []Result {
	j := c.job(h)
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Result, 0, len(j.order))
	for _, id := range j.order {
		r := *j.results[id]
		r.Paths = append([]string(nil), r.Paths...)
		out = append(out, r)
	}
	return out
}

// Done is closed when every worker of the job has returned.
func (c *Coordinator) Done(h JobHandle) <-chan struct{} {
	j := c.job(h)
	if j == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return j.done
}

// Cancel stops a job and returns without waiting for its workers. The ledger
// entries the job recorded for items not consumed since are released once the
// last worker has returned.
func (c *Coordinator) Cancel(h JobHandle) error {
	j := c.job(h)
	if j == nil {
		return ErrUnknownJob
	}
	c.mu.Lock()
	delete(c.jobs, h)
	c.mu.Unlock()

	j.cancel()
	c.logger.Info().Str("job", string(h)).Msg("download job cancelled")

	j.mu.Lock()
	j.cancelled = true
	finished := j.finished
	j.mu.Unlock()
	if finished {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.releaseRecorded(j)
		}()
	}
	return nil
}

func (c *Coordinator) releaseRecorded(j *job) {
	j.mu.Lock()
	recorded := append([]string(nil), j.recorded...)
	j.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.ledger.ReleaseLedger(ctx, recorded); err != nil {
		c.logger.Warn().Err(err).Str("job", string(j.id)).Msg("release ledger")
		return
	}
	c.logger.Info().Str("job", string(j.id)).Int("released", len(recorded)).Msg("cancelled job released")
}

// Forget drops a finished job's bookkeeping.
func (c *Coordinator) Forget(h JobHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobs, h)
	delete(c.listings, h)
}

// Shutdown cancels everything and waits for workers.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	for _, j := range c.jobs {
		j.cancel()
	}
	for _, l := range c.listings {
		l.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) job(h JobHandle) *job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs[h]
}

func (j *job) set(id string, fn func(*Result)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if r, ok := j.results[id]; ok {
		fn(r)
	}
}

// finish marks the workers done and reports whether the job was cancelled
// before they returned.
func (j *job) finish() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished = true
	return j.cancelled
}

func (j *job) progress() Progress {
	finished := false
	select {
	case <-j.done:
		finished = true
	default:
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	var p Progress
	for _, r := range j.results {
		switch r.State {
		case StateStaged, StateConsumed:
			p.Completed++
		case StateFailed:
			p.Failed++
		default:
			p.Pending++
		}
	}
	p.Done = finished || p.Pending == 0
	return p
}

func maxAttempts(s *config.Settings) int {
	if s == nil || s.DownloadRetryAttempts < 1 {
		return config.DefaultDownloadRetryAttempts
	}
	return s.DownloadRetryAttempts
}

func cookiesFrom(s *config.Settings) *fetch.Cookies {
	if s == nil || !s.Cookies.Enabled {
		return nil
	}
	return &fetch.Cookies{Browser: s.Cookies.Browser, File: s.Cookies.File}
}

// ErrUnknownJob is returned for handles the coordinator does not know.
var ErrUnknownJob = errors.New("unknown download job")
