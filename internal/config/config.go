/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid marks configuration that failed validation.
var ErrInvalid = errors.New("configuration invalid")

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventMirror selects where rotation events are mirrored for other processes.
type EventMirror string

const (
	EventMirrorNone  EventMirror = "none"
	EventMirrorRedis EventMirror = "redis"
	EventMirrorNATS  EventMirror = "nats"
)

// Config covers process level configuration read from environment variables.
// Values that operators tune while the service runs live in Settings instead.
type Config struct {
	Environment string
	LogLevel    string // overrides the environment default when set
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	SettingsPath string // YAML settings file, watched for changes
	LiveDir      string // directory the player reads from
	StagingDir   string // next session's downloads
	StateDir     string // switch journal and other local state

	TickInterval       time.Duration
	LiveCheckInterval  time.Duration
	CursorSaveInterval time.Duration

	// Player / lock probe
	PlayerProcess string // process name holding the live file open (linux probe)

	// Control surface
	OBSURL            string
	OBSPassword       string
	OBSExecutable     string
	OBSWorkDir        string
	OBSSentinelDir    string
	OBSLaunchWait     time.Duration
	OBSRequestTimeout time.Duration
	SceneStream       string
	ScenePause        string
	SceneTransition   string
	MediaSourceName   string

	// Freeze watchdog
	FreezePollInterval   time.Duration
	FreezeStallThreshold int
	ReconnectAttempts    int

	// Fetch tool
	YTDLPBin      string
	FetchTimeout  time.Duration
	FetchParallel int

	// Platforms (static credentials, no exchange flow)
	TwitchClientID      string
	TwitchAccessToken   string
	TwitchBroadcasterID string
	KickAccessToken     string

	// Notifications
	DiscordWebhookURL string
	WebhookURL        string
	WebhookSecret     string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Event mirroring
	EventMirror   EventMirror
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	InstanceID    string
	// InstanceLock holds a Redis lease so only one instance drives the live
	// directory; the others wait on standby.
	InstanceLock  bool

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"LOOPCAST_ENV", "ENVIRONMENT"}, "development"),
		LogLevel:    getEnvAny([]string{"LOOPCAST_LOG_LEVEL"}, ""),
		HTTPBind:    getEnvAny([]string{"LOOPCAST_HTTP_BIND"}, "127.0.0.1"),
		HTTPPort:    getEnvIntAny([]string{"LOOPCAST_HTTP_PORT"}, 8090),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"LOOPCAST_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:       getEnvAny([]string{"LOOPCAST_DB_DSN"}, "loopcast.db"),

		SettingsPath: getEnvAny([]string{"LOOPCAST_SETTINGS", "LOOPCAST_SETTINGS_PATH"}, "settings.yaml"),
		LiveDir:      getEnvAny([]string{"LOOPCAST_LIVE_DIR", "VIDEO_FOLDER"}, "./stream_videos"),
		StagingDir:   getEnvAny([]string{"LOOPCAST_STAGING_DIR", "NEXT_ROTATION_FOLDER"}, "./stream_videos_next"),
		StateDir:     getEnvAny([]string{"LOOPCAST_STATE_DIR"}, "./state"),

		TickInterval:       getEnvDurationAny([]string{"LOOPCAST_TICK_INTERVAL"}, time.Second),
		LiveCheckInterval:  getEnvDurationAny([]string{"LOOPCAST_LIVE_CHECK_INTERVAL"}, 60*time.Second),
		CursorSaveInterval: getEnvDurationAny([]string{"LOOPCAST_CURSOR_SAVE_INTERVAL"}, time.Second),

		PlayerProcess: getEnvAny([]string{"LOOPCAST_PLAYER_PROCESS"}, "obs"),

		OBSURL:            getEnvAny([]string{"LOOPCAST_OBS_URL", "OBS_URL"}, "ws://127.0.0.1:4455"),
		OBSPassword:       getEnvAny([]string{"LOOPCAST_OBS_PASSWORD", "OBS_PASSWORD"}, ""),
		OBSExecutable:     getEnvAny([]string{"LOOPCAST_OBS_EXECUTABLE", "OBS_PATH"}, defaultOBSExecutable()),
		OBSWorkDir:        getEnvAny([]string{"LOOPCAST_OBS_WORKDIR"}, ""),
		OBSSentinelDir:    getEnvAny([]string{"LOOPCAST_OBS_SENTINEL_DIR"}, defaultSentinelDir()),
		OBSLaunchWait:     getEnvDurationAny([]string{"LOOPCAST_OBS_LAUNCH_WAIT"}, 8*time.Second),
		OBSRequestTimeout: getEnvDurationAny([]string{"LOOPCAST_OBS_REQUEST_TIMEOUT"}, 5*time.Second),
		SceneStream:       getEnvAny([]string{"LOOPCAST_SCENE_STREAM", "SCENE_OFFLINE"}, "Stream"),
		ScenePause:        getEnvAny([]string{"LOOPCAST_SCENE_PAUSE", "SCENE_LIVE"}, "Pause screen"),
		SceneTransition:   getEnvAny([]string{"LOOPCAST_SCENE_TRANSITION", "SCENE_CONTENT_SWITCH"}, "content-switch"),
		MediaSourceName:   getEnvAny([]string{"LOOPCAST_MEDIA_SOURCE", "VLC_SOURCE_NAME"}, "Playlist"),

		FreezePollInterval:   getEnvDurationAny([]string{"LOOPCAST_FREEZE_POLL_INTERVAL"}, 20*time.Second),
		FreezeStallThreshold: getEnvIntAny([]string{"LOOPCAST_FREEZE_STALL_THRESHOLD"}, 3),
		ReconnectAttempts:    getEnvIntAny([]string{"LOOPCAST_RECONNECT_ATTEMPTS"}, 5),

		YTDLPBin:      getEnvAny([]string{"LOOPCAST_YTDLP_BIN", "YTDLP_PATH"}, "yt-dlp"),
		FetchTimeout:  getEnvDurationAny([]string{"LOOPCAST_FETCH_TIMEOUT"}, time.Hour),
		FetchParallel: getEnvIntAny([]string{"LOOPCAST_FETCH_PARALLEL"}, 2),

		TwitchClientID:      getEnvAny([]string{"LOOPCAST_TWITCH_CLIENT_ID", "TWITCH_CLIENT_ID"}, ""),
		TwitchAccessToken:   getEnvAny([]string{"LOOPCAST_TWITCH_ACCESS_TOKEN", "TWITCH_USER_ACCESS_TOKEN"}, ""),
		TwitchBroadcasterID: getEnvAny([]string{"LOOPCAST_TWITCH_BROADCASTER_ID", "TWITCH_BROADCASTER_ID"}, ""),
		KickAccessToken:     getEnvAny([]string{"LOOPCAST_KICK_ACCESS_TOKEN", "KICK_ACCESS_TOKEN"}, ""),

		DiscordWebhookURL: getEnvAny([]string{"LOOPCAST_DISCORD_WEBHOOK_URL", "DISCORD_WEBHOOK_URL"}, ""),
		WebhookURL:        getEnvAny([]string{"LOOPCAST_WEBHOOK_URL"}, ""),
		WebhookSecret:     getEnvAny([]string{"LOOPCAST_WEBHOOK_SECRET"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"LOOPCAST_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"LOOPCAST_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"LOOPCAST_TRACING_SAMPLE_RATE"}, 1.0),

		EventMirror:   EventMirror(getEnvAny([]string{"LOOPCAST_EVENT_MIRROR"}, string(EventMirrorNone))),
		RedisAddr:     getEnvAny([]string{"LOOPCAST_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"LOOPCAST_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"LOOPCAST_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"LOOPCAST_NATS_URL"}, "nats://127.0.0.1:4222"),
		InstanceID:    getEnvAny([]string{"LOOPCAST_INSTANCE_ID"}, ""),
		InstanceLock:  getEnvBoolAny([]string{"LOOPCAST_INSTANCE_LOCK"}, false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// Validate checks process configuration. Errors wrap ErrInvalid.
func (c *Config) Validate() error {
	if c.DBBackend != DatabasePostgres && c.DBBackend != DatabaseMySQL && c.DBBackend != DatabaseSQLite {
		return fmt.Errorf("%w: unsupported database backend %q", ErrInvalid, c.DBBackend)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("%w: LOOPCAST_DB_DSN must be provided", ErrInvalid)
	}
	if c.LiveDir == "" || c.StagingDir == "" {
		return fmt.Errorf("%w: live and staging directories must be set", ErrInvalid)
	}
	if samePath(c.LiveDir, c.StagingDir) {
		return fmt.Errorf("%w: live and staging directories must differ", ErrInvalid)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick interval must be positive", ErrInvalid)
	}
	if c.FreezeStallThreshold < 1 {
		return fmt.Errorf("%w: freeze stall threshold must be at least 1", ErrInvalid)
	}
	if c.FreezePollInterval < c.TickInterval {
		return fmt.Errorf("%w: freeze poll interval must not be shorter than the tick", ErrInvalid)
	}
	if c.FetchParallel < 1 {
		c.FetchParallel = 1
	}
	switch c.EventMirror {
	case EventMirrorNone, EventMirrorRedis, EventMirrorNATS:
	default:
		return fmt.Errorf("%w: unknown event mirror %q", ErrInvalid, c.EventMirror)
	}
	return nil
}

// JournalPath is where the switch journal is written.
func (c *Config) JournalPath() string {
	return filepath.Join(c.StateDir, "switch.journal")
}

func samePath(a, b string) bool {
	aa, errA := filepath.Abs(a)
	bb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}

func defaultOBSExecutable() string {
	if os.PathSeparator == '\\' {
		return `C:\Program Files\obs-studio\bin\64bit\obs64.exe`
	}
	return "obs"
}

func defaultSentinelDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "obs-studio", ".sentinel")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "obs-studio", ".sentinel")
	}
	return ""
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"VIDEO_FOLDER":         "use LOOPCAST_LIVE_DIR",
		"NEXT_ROTATION_FOLDER": "use LOOPCAST_STAGING_DIR",
		"OBS_PASSWORD":         "use LOOPCAST_OBS_PASSWORD",
		"DISCORD_WEBHOOK_URL":  "use LOOPCAST_DISCORD_WEBHOOK_URL",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("20s") or bare seconds ("20").
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
