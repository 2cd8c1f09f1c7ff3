/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"errors"
	"time"

	"github.com/friendsincode/loopcast/internal/telemetry"
	"gorm.io/gorm"
)

const startTimeKey = "loopcast:start_time"

// RegisterCallbacks times every query, create, update and delete into the
// store metrics.
func RegisterCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("telemetry:before_query", markStart); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("telemetry:after_query", observe("query")); err != nil {
		return err
	}
	if err := cb.Create().Before("gorm:create").Register("telemetry:before_create", markStart); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("telemetry:after_create", observe("create")); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("telemetry:before_update", markStart); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("telemetry:after_update", observe("update")); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("telemetry:before_delete", markStart); err != nil {
		return err
	}
	return cb.Delete().After("gorm:delete").Register("telemetry:after_delete", observe("delete"))
}

func markStart(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

func observe(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(startTimeKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}

		table := db.Statement.Table
		if table == "" {
			table = "unknown"
		}
		telemetry.StoreQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())

		if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
			telemetry.StoreErrorsTotal.WithLabelValues(operation, table).Inc()
		}
	}
}
