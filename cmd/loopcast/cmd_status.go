/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/loopcast/internal/api"
)

var adminAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the running service is doing",
	RunE:  runStatus,
}

var controlCmd = &cobra.Command{
	Use:       "control <trigger|skip|pause|resume>",
	Short:     "Send a manual command to the running service",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"trigger", "skip", "pause", "resume"},
	RunE:      runControl,
}

var overrideCmd = &cobra.Command{
	Use:   "override <group>...",
	Short: "Replace the prepared rotation with the named groups",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runOverride,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "", "Admin address of the running service (default from LOOPCAST_HTTP_BIND/PORT)")
	rootCmd.AddCommand(statusCmd, controlCmd, overrideCmd)
}

// adminBaseURL resolves the admin endpoint of the running service.
func adminBaseURL() string {
	if adminAddr != "" {
		if strings.Contains(adminAddr, "://") {
			return strings.TrimRight(adminAddr, "/")
		}
		return "http://" + adminAddr
	}
	host := cfg.HTTPBind
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.HTTPPort))
}

// adminRequest calls the admin API and decodes a JSON answer into out.
func adminRequest(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, adminBaseURL()+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contact loopcast at %s: %w", adminBaseURL(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	var st api.StatusResponse
	if err := adminRequest(cmd.Context(), http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return err
	}
	printStatus(os.Stdout, st)
	return nil
}

func printStatus(w io.Writer, st api.StatusResponse) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "State:\t%s\n", st.State)
	if st.Paused {
		reason := "manual"
		if st.StreamerLive {
			reason = "streamer live"
		}
		fmt.Fprintf(tw, "Paused:\t%s\n", reason)
	}
	if st.Current != nil {
		fmt.Fprintf(tw, "Current:\t%s (%s)\n", strings.Join(st.Current.Groups, ", "), st.Current.ID)
	}
	if st.PlayingFile != "" {
		fmt.Fprintf(tw, "Playing:\t%s\n", st.PlayingFile)
	}
	if n := st.Next; n != nil {
		p := n.Progress
		fmt.Fprintf(tw, "Next:\t%s [%s] %d done, %d failed, %d pending\n",
			strings.Join(n.Groups, ", "), n.Phase, p.Completed, p.Failed, p.Pending)
	}
	switch {
	case st.FreezeRecovering:
		fmt.Fprintf(tw, "Watchdog:\trecovering from a render freeze\n")
	case st.FreezeBlocked:
		fmt.Fprintf(tw, "Watchdog:\tBLOCKED, run 'loopcast incident clear'\n")
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	var st api.StatusResponse
	if err := adminRequest(cmd.Context(), http.MethodPost, "/api/v1/control/"+args[0], nil, &st); err != nil {
		return err
	}
	printStatus(os.Stdout, st)
	return nil
}

func runOverride(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	body, err := json.Marshal(map[string][]string{"groups": args})
	if err != nil {
		return err
	}
	var st api.StatusResponse
	if err := adminRequest(cmd.Context(), http.MethodPost, "/api/v1/control/override", strings.NewReader(string(body)), &st); err != nil {
		return err
	}
	printStatus(os.Stdout, st)
	return nil
}
