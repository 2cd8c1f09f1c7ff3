/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/loopcast/internal/db"
	"github.com/friendsincode/loopcast/internal/store"
)

var incidentLimit int

var incidentCmd = &cobra.Command{
	Use:   "incident",
	Short: "Inspect and clear render freeze incidents",
}

var incidentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent freeze incidents",
	RunE:  runIncidentList,
}

var incidentClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear blocking incidents and re-arm automatic freeze recovery",
	Long: `Clear blocking freeze incidents.

When the service is running this performs a manual reconnect to the control
surface, clears the incidents and re-arms automatic recovery. When it is not
running the incidents are cleared in the database directly, so the next start
does not come up blocked.`,
	RunE: runIncidentClear,
}

func init() {
	incidentListCmd.Flags().IntVarP(&incidentLimit, "limit", "n", 20, "Number of incidents to show")
	incidentCmd.AddCommand(incidentListCmd, incidentClearCmd)
	rootCmd.AddCommand(incidentCmd)
}

func openStore() (*store.Store, func(), error) {
	database, err := db.Connect(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, nil, err
	}
	return store.New(database, cfg.CursorSaveInterval, logger), func() { _ = db.Close(database) }, nil
}

func runIncidentList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	st, closeFn, err := openStore()
	if err != nil {
		return err
	}
	defer closeFn()

	incidents, err := st.Incidents(cmd.Context(), incidentLimit)
	if err != nil {
		return err
	}
	if len(incidents) == 0 {
		fmt.Println("No freeze incidents recorded.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "DETECTED\tOUTCOME\tBLOCKING\tITEM\tDETAIL")
	for _, inc := range incidents {
		blocking := ""
		if inc.Blocked && inc.ClearedAt == nil {
			blocking = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			inc.DetectedAt.Local().Format(time.DateTime), inc.Outcome, blocking, inc.CapturedItem, inc.Detail)
	}
	return nil
}

func runIncidentClear(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	err := adminRequest(cmd.Context(), http.MethodPost, "/api/v1/incidents/clear", nil, nil)
	if err == nil {
		fmt.Println("Incidents cleared; automatic freeze recovery is armed.")
		return nil
	}
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return err
	}

	// not running: clear in the database
	st, closeFn, serr := openStore()
	if serr != nil {
		return serr
	}
	defer closeFn()
	if err := st.ClearIncidents(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Service not reachable; incidents cleared in the database.")
	return nil
}
