/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package fetch drives the external download tool (yt-dlp) and classifies
// its failures as transient or permanent.
package fetch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/loopcast/internal/media"
)

// Class is the retry classification of a fetch failure.
type Class int

const (
	// Transient failures (network, rate limit) are retried with backoff.
	Transient Class = iota
	// Permanent failures (removed, private, unsupported) fail the item.
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

var (
	// ErrTransient matches any *Error of class Transient via errors.Is.
	ErrTransient = errors.New("transient fetch error")
	// ErrPermanent matches any *Error of class Permanent via errors.Is.
	ErrPermanent = errors.New("permanent fetch error")
)

// Error is a classified fetch failure.
type Error struct {
	Class  Class
	Op     string
	URL    string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Class)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPermanent) and errors.Is(err, ErrTransient) work.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Class == Transient
	case ErrPermanent:
		return e.Class == Permanent
	}
	return false
}

// IsPermanent reports whether err is a permanent fetch failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Cookies selects optional credential-assisted fetching.
type Cookies struct {
	Browser string
	File    string
}

// Request describes one item download.
type Request struct {
	SourceURL string
	DestDir   string
	// OutputTemplate is a yt-dlp template relative to DestDir.
	OutputTemplate string
	ArchiveFile    string
	// ID is the extractor id, used to find a file the archive says we already have.
	ID      string
	Cookies *Cookies
}

// Entry is one item of a listed source.
type Entry struct {
	ID       string  `json:"id"`
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Index    int     `json:"playlist_index"`
}

// Tool is the download tool boundary.
type Tool interface {
	List(ctx context.Context, sourceURL string, cookies *Cookies) ([]Entry, error)
	Fetch(ctx context.Context, req Request) ([]string, error)
}

// waitDelay bounds how long a cancelled run waits for the tool's pipes to
// close after the process group was killed.
const waitDelay = 5 * time.Second

type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// YTDLP runs the yt-dlp binary.
type YTDLP struct {
	bin     string
	timeout time.Duration
	logger  zerolog.Logger
	run     runFunc
}

// New creates the yt-dlp adapter. timeout bounds a single invocation.
func New(bin string, timeout time.Duration, logger zerolog.Logger) *YTDLP {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YTDLP{
		bin:     bin,
		timeout: timeout,
		logger:  logger.With().Str("component", "fetch").Logger(),
		run:     runCommand,
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// List enumerates the entries of a playlist or channel without downloading.
func (y *YTDLP) List(ctx context.Context, sourceURL string, cookies *Cookies) ([]Entry, error) {
	args := []string{"--flat-playlist", "--dump-json", "--no-warnings", "--ignore-errors"}
	args = append(args, cookieArgs(cookies)...)
	args = append(args, "--", sourceURL)

	stdout, stderr, err := y.invoke(ctx, args)
	entries := parseEntries(stdout)
	if err != nil && len(entries) == 0 {
		return nil, classify("list", sourceURL, stderr, err)
	}
	if len(entries) == 0 {
		return nil, &Error{Class: Permanent, Op: "list", URL: sourceURL, Detail: "no entries"}
	}
	for i := range entries {
		if entries[i].Index == 0 {
			entries[i].Index = i + 1
		}
		if entries[i].URL == "" {
			entries[i].URL = entries[i].ID
		}
	}
	return entries, nil
}

// Fetch downloads one item and returns the final file paths.
func (y *YTDLP) Fetch(ctx context.Context, req Request) ([]string, error) {
	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return nil, &Error{Class: Permanent, Op: "fetch", URL: req.SourceURL, Err: err}
	}
	stdout, stderr, err := y.invoke(ctx, fetchArgs(req))
	if err != nil {
		return nil, classify("fetch", req.SourceURL, stderr, err)
	}

	var paths []string
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && media.IsMedia(line) {
			paths = append(paths, line)
		}
	}
	if len(paths) == 0 && req.ID != "" {
		// already in the archive: yt-dlp skips silently
		paths = findByID(req.DestDir, req.ID)
	}
	if len(paths) == 0 {
		return nil, &Error{Class: Transient, Op: "fetch", URL: req.SourceURL, Detail: "tool reported success but produced no file"}
	}
	return paths, nil
}

func (y *YTDLP) invoke(ctx context.Context, args []string) ([]byte, []byte, error) {
	if y.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, y.timeout)
		defer cancel()
	}
	y.logger.Debug().Strs("args", args).Msg("running fetch tool")
	stdout, stderr, err := y.run(ctx, y.bin, args...)
	if err == nil {
		return stdout, stderr, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout, stderr, ctxErr
	}
	return stdout, stderr, err
}

func fetchArgs(req Request) []string {
	tmpl := req.OutputTemplate
	if tmpl == "" {
		tmpl = "%(title).80s [%(id)s].%(ext)s"
	}
	args := []string{
		"--no-warnings",
		"--quiet",
		"--no-progress",
		"--no-playlist",
		"--continue",
		"--no-overwrites",
		"--retries", "3",
		"--fragment-retries", "3",
		"--extractor-retries", "3",
		"--socket-timeout", "30",
		"--concurrent-fragments", "5",
		"--http-chunk-size", "10M",
		"-P", "home:" + req.DestDir,
		"-P", "temp:" + filepath.Join(req.DestDir, "temp"),
		"-o", tmpl,
		"--print", "after_move:filepath",
	}
	if req.ArchiveFile != "" {
		args = append(args, "--download-archive", req.ArchiveFile)
	}
	args = append(args, cookieArgs(req.Cookies)...)
	return append(args, "--", req.SourceURL)
}

func cookieArgs(c *Cookies) []string {
	switch {
	case c == nil:
		return nil
	case c.File != "":
		return []string{"--cookies", c.File}
	case c.Browser != "":
		return []string{"--cookies-from-browser", strings.ToLower(c.Browser)}
	}
	return nil
}

func parseEntries(stdout []byte) []Entry {
	var out []Entry
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.ID == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

func findByID(dir, id string) []string {
	names, err := media.List(dir)
	if err != nil {
		return nil
	}
	marker := "[" + id + "]"
	var out []string
	for _, n := range names {
		if strings.Contains(n, marker) {
			out = append(out, filepath.Join(dir, n))
		}
	}
	return out
}

var permanentMarkers = []string{
	"video unavailable",
	"private video",
	"has been removed",
	"has been terminated",
	"no longer available",
	"does not exist",
	"http error 404",
	"http error 410",
	"unsupported url",
	"is not a valid url",
	"requested format is not available",
	"members-only",
	"join this channel",
	"copyright claim",
}

var transientMarkers = []string{
	"http error 429",
	"too many requests",
	"timed out",
	"connection reset",
	"temporary failure",
	"unable to download webpage",
	"http error 5",
	"sign in to confirm",
}

// classify maps a tool failure onto Transient or Permanent.
func classify(op, url string, stderr []byte, err error) *Error {
	detail := lastLine(stderr)
	e := &Error{Op: op, URL: url, Detail: detail, Err: err}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		e.Class = Transient
		return e
	}
	if errors.Is(err, exec.ErrNotFound) {
		e.Class = Permanent
		return e
	}

	lower := strings.ToLower(string(stderr))
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			e.Class = Transient
			return e
		}
	}
	for _, m := range permanentMarkers {
		if strings.Contains(lower, m) {
			e.Class = Permanent
			return e
		}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 2 {
		// usage error: bad options will not fix themselves
		e.Class = Permanent
		e.Detail = strings.TrimSpace(detail + " (exit " + strconv.Itoa(exitErr.ExitCode()) + ")")
		return e
	}
	e.Class = Transient
	return e
}

func lastLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
