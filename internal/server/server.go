/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/loopcast/internal/api"
	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/controlsurface"
	"github.com/friendsincode/loopcast/internal/controlsurface/obs"
	"github.com/friendsincode/loopcast/internal/db"
	"github.com/friendsincode/loopcast/internal/detector"
	"github.com/friendsincode/loopcast/internal/download"
	"github.com/friendsincode/loopcast/internal/eventbus"
	"github.com/friendsincode/loopcast/internal/events"
	"github.com/friendsincode/loopcast/internal/fetch"
	"github.com/friendsincode/loopcast/internal/leadership"
	"github.com/friendsincode/loopcast/internal/logbuffer"
	"github.com/friendsincode/loopcast/internal/media"
	"github.com/friendsincode/loopcast/internal/notifications"
	"github.com/friendsincode/loopcast/internal/platform"
	"github.com/friendsincode/loopcast/internal/rotation"
	"github.com/friendsincode/loopcast/internal/store"
	"github.com/friendsincode/loopcast/internal/telemetry"
	"github.com/friendsincode/loopcast/internal/tempplay"
	"github.com/friendsincode/loopcast/internal/version"
	"github.com/friendsincode/loopcast/internal/watchdog"
	"github.com/friendsincode/loopcast/internal/webhooks"
)

// apiRequestsPerMinute caps admin API calls per client address.
const apiRequestsPerMinute = 120

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db              *gorm.DB
	store           *store.Store
	settings        *config.Holder
	logBuffer       *logbuffer.Buffer
	bus             *events.Bus
	surface         controlsurface.Surface
	downloads       *download.Coordinator
	rotation        *rotation.Orchestrator
	watchdog        *watchdog.Watchdog
	notificationSvc *notifications.Service
	mirror          *eventbus.Mirror
	updateChecker   *version.Checker
	lease           *leadership.Election
	api             *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New wires every component from cfg and starts the background workers.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    newRouter(),
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func newRouter() chi.Router {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("loopcast-admin"))
	router.Use(telemetry.MetricsMiddleware)
	router.Use(middleware.Timeout(60 * time.Second))
	return router
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		w.Header().Set("Cache-Control", "no-store")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware limits requests per client IP with a sliding window.
func rateLimitMiddleware(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
		}),
	)
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	for _, dir := range []string{s.cfg.LiveDir, s.cfg.StagingDir, s.cfg.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	if err := media.NewDir(s.cfg.LiveDir, s.logger).CheckAccess(); err != nil {
		return fmt.Errorf("live directory: %w", err)
	}

	holder, err := config.NewHolder(s.cfg.SettingsPath, s.logger)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	s.settings = holder
	s.store = store.New(database, s.cfg.CursorSaveInterval, s.logger)

	obsCfg := obs.DefaultConfig(s.cfg.OBSURL, s.cfg.OBSPassword)
	if s.cfg.OBSRequestTimeout > 0 {
		obsCfg.RequestTimeout = s.cfg.OBSRequestTimeout
	}
	obsClient := obs.New(obsCfg, s.logger)
	s.surface = obsClient
	s.DeferClose(obsClient.Close)

	det := detector.New(media.NewProbe(s.cfg.PlayerProcess), detector.DefaultConfig(), s.logger)
	det.SetPositionSource(controlsurface.SourcePosition{Surface: s.surface, Source: s.cfg.MediaSourceName})

	tool := fetch.New(s.cfg.YTDLPBin, s.cfg.FetchTimeout, s.logger)
	s.downloads = download.New(tool, s.store, holder, download.Options{
		StagingDir:  s.cfg.StagingDir,
		MaxParallel: s.cfg.FetchParallel,
	}, s.logger)
	s.DeferClose(func() error {
		s.downloads.Shutdown()
		return nil
	})

	temp := tempplay.New(s.surface, det, s.store, tempplay.Config{
		StreamScene:     s.cfg.SceneStream,
		TransitionScene: s.cfg.SceneTransition,
		MediaSource:     s.cfg.MediaSourceName,
	}, s.logger)

	s.rotation = rotation.New(rotation.Deps{
		Store:     s.store,
		Surface:   s.surface,
		Detector:  det,
		Downloads: s.downloads,
		Temp:      temp,
		Platforms: s.platforms(),
		Bus:       s.bus,
		Settings:  holder,
	}, rotation.ConfigFrom(s.cfg), s.logger)

	s.watchdog = watchdog.New(
		s.surface,
		watchdog.NewLauncher(s.cfg.OBSExecutable, s.cfg.OBSWorkDir, s.logger),
		s.store,
		s.bus,
		watchdog.Hooks{
			CurrentItem: s.rotation.CurrentItem,
			OnFreeze:    s.rotation.OnFreeze,
			OnRecovered: s.rotation.OnRecovered,
		},
		watchdog.Config{
			PollInterval:      s.cfg.FreezePollInterval,
			StallThreshold:    s.cfg.FreezeStallThreshold,
			SentinelDir:       s.cfg.OBSSentinelDir,
			LaunchWait:        s.cfg.OBSLaunchWait,
			ReconnectAttempts: s.cfg.ReconnectAttempts,
		},
		s.logger,
	)

	var sinks []notifications.Sink
	if s.cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notifications.NewDiscord(s.cfg.DiscordWebhookURL, nil))
	}
	if s.cfg.WebhookURL != "" {
		sinks = append(sinks, webhooks.NewSink(s.cfg.WebhookURL, s.cfg.WebhookSecret, nil))
	}
	s.notificationSvc = notifications.NewService(s.bus, holder, s.logger, sinks...)

	if err := s.initMirror(); err != nil {
		// rotation does not depend on the mirror
		s.logger.Warn().Err(err).Str("mirror", string(s.cfg.EventMirror)).Msg("event mirror unavailable, continuing without it")
	}

	if s.cfg.InstanceLock {
		lease, err := leadership.NewElection(leadership.ElectionConfig{
			RedisAddr:     s.cfg.RedisAddr,
			RedisPassword: s.cfg.RedisPassword,
			RedisDB:       s.cfg.RedisDB,
			Key:           leadership.KeyFor(s.cfg.LiveDir),
			InstanceID:    s.cfg.InstanceID,
		}, s.logger)
		if err != nil {
			return err
		}
		s.lease = lease
		s.DeferClose(lease.Close)
	}

	s.updateChecker = version.NewChecker(s.logger, func(info version.UpdateInfo) {
		s.bus.Publish(events.EventUpdateAvailable, events.Payload{
			"current":  info.CurrentVersion,
			"latest":   info.LatestVersion,
			"critical": info.Critical,
			"url":      info.ReleaseURL,
		})
	})

	s.api = api.New(api.Deps{
		Rotation:  s.rotation,
		Recovery:  s.watchdog,
		History:   s.store,
		Settings:  holder,
		LogBuffer: s.logBuffer,
	}, s.logger)
	return nil
}

// platforms builds a publisher for every platform with credentials.
func (s *Server) platforms() *platform.Manager {
	var pubs []platform.Publisher
	if s.cfg.TwitchClientID != "" && s.cfg.TwitchAccessToken != "" {
		pubs = append(pubs, platform.NewTwitch(s.cfg.TwitchClientID, s.cfg.TwitchAccessToken, s.cfg.TwitchBroadcasterID, platform.Options{}))
	}
	if s.cfg.KickAccessToken != "" {
		pubs = append(pubs, platform.NewKick(s.cfg.KickAccessToken, platform.Options{}))
	}
	m := platform.NewManager(s.logger, pubs...)
	if m.Empty() {
		s.logger.Info().Msg("no platform credentials configured, titles will not be published")
	} else {
		s.logger.Info().Strs("platforms", m.Names()).Msg("platform publishers ready")
	}
	return m
}

func (s *Server) initMirror() error {
	var sink eventbus.Sink
	switch s.cfg.EventMirror {
	case config.EventMirrorRedis:
		rc := eventbus.DefaultRedisConfig()
		rc.Addr = s.cfg.RedisAddr
		rc.Password = s.cfg.RedisPassword
		rc.DB = s.cfg.RedisDB
		rs, err := eventbus.NewRedisSink(context.Background(), rc, s.logger)
		if err != nil {
			return err
		}
		sink = rs
	case config.EventMirrorNATS:
		nc := eventbus.DefaultNATSConfig()
		nc.URL = s.cfg.NATSURL
		ns, err := eventbus.NewNATSSink(nc, s.logger)
		if err != nil {
			return err
		}
		sink = ns
	default:
		return nil
	}
	cfg := eventbus.DefaultMirrorConfig()
	cfg.NodeID = s.cfg.InstanceID
	s.mirror = eventbus.NewMirror(s.bus, sink, cfg, s.logger)
	return nil
}

// HTTPServer returns the admin HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the log buffer for the admin surface.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close stops the workers and releases resources in reverse order.
func (s *Server) Close() error {
	if s.notificationSvc != nil && s.bgCancel != nil {
		s.notificationSvc.Announce(events.EventServiceStopping, nil)
	}
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	if s.rotation == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if err := s.settings.Watch(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("settings file watch unavailable, use reload instead")
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.notificationSvc.Start(ctx)
	}()
	s.notificationSvc.Announce(events.EventServiceStarted, nil)

	if s.mirror != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.mirror.Run(ctx)
		}()
	}

	// first connection attempt; the orchestrator keeps retrying while away
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := s.surface.Connect(connectCtx); err != nil {
		s.logger.Warn().Err(err).Str("url", s.cfg.OBSURL).Msg("control surface not reachable yet")
	}
	connectCancel()

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		if s.lease != nil {
			// standby instances serve the admin API but leave the live directory alone
			s.lease.Run(ctx, s.runRotation)
			return
		}
		s.runRotation(ctx)
	}()

	s.updateChecker.Start(ctx)
}

// runRotation drives the live directory until ctx ends.
func (s *Server) runRotation(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.watchdog.Start(ctx)
	}()
	if err := s.rotation.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("rotation loop exited")
	}
	wg.Wait()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.updateChecker.Stop()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(apiRequestsPerMinute, time.Minute))
		s.api.Routes(r)
	})
}

// handleHealthz reports liveness plus the rotation state. It stays 200 while
// the control surface is away; the orchestrator waits that out.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := `{"status":"ok"`
	if s.rotation != nil {
		response += `,"state":"` + string(s.rotation.State()) + `"`
	}
	if s.surface != nil {
		response += `,"control_surface":` + strconv.FormatBool(s.surface.IsConnected())
	}
	response += `}`
	_, _ = w.Write([]byte(response))
}
