/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/loopcast/internal/config"
	"github.com/friendsincode/loopcast/internal/eventbus"
	"github.com/friendsincode/loopcast/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Read rotation events mirrored to Redis or NATS",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print mirrored events as they happen",
	RunE:  runEventsTail,
}

var eventsLastCmd = &cobra.Command{
	Use:   "last",
	Short: "Print the latest event of each type (Redis mirror only)",
	RunE:  runEventsLast,
}

func init() {
	eventsCmd.AddCommand(eventsTailCmd, eventsLastCmd)
	rootCmd.AddCommand(eventsCmd)
}

func redisConfig() eventbus.RedisConfig {
	rc := eventbus.DefaultRedisConfig()
	rc.Addr = cfg.RedisAddr
	rc.Password = cfg.RedisPassword
	rc.DB = cfg.RedisDB
	return rc
}

func printMessage(m *eventbus.Message) {
	payload, _ := json.Marshal(m.Payload)
	fmt.Printf("%s  %-24s %s\n", m.Timestamp.Local().Format(time.DateTime), m.EventType, payload)
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.EventMirror {
	case config.EventMirrorRedis:
		return eventbus.TailRedis(ctx, redisConfig(), printMessage)
	case config.EventMirrorNATS:
		nc := eventbus.DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		return eventbus.TailNATS(ctx, nc, printMessage)
	default:
		return fmt.Errorf("no event mirror configured (set LOOPCAST_EVENT_MIRROR to redis or nats)")
	}
}

func runEventsLast(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.EventMirror != config.EventMirrorRedis {
		return fmt.Errorf("latest events are kept by the redis mirror only")
	}
	last, err := eventbus.LastEvents(cmd.Context(), redisConfig())
	if err != nil {
		return err
	}
	types := make([]events.EventType, 0, len(last))
	for et := range last {
		types = append(types, et)
	}
	sort.Slice(types, func(i, j int) bool { return last[types[i]].Timestamp.Before(last[types[j]].Timestamp) })
	for _, et := range types {
		printMessage(last[et])
	}
	return nil
}
