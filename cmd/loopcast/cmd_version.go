/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/loopcast/internal/version"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version, optionally checking for a newer release",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Query GitHub for the latest release")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "loopcast %s\n", version.Version)
	if !versionCheck {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	info, err := version.NewChecker(zerolog.Nop(), nil).Check(ctx)
	if err != nil {
		return err
	}
	switch {
	case info.UpdateAvailable && info.Critical:
		fmt.Fprintf(out, "critical update %s available: %s\n", info.LatestVersion, info.ReleaseURL)
	case info.UpdateAvailable:
		fmt.Fprintf(out, "update %s available: %s\n", info.LatestVersion, info.ReleaseURL)
	default:
		fmt.Fprintln(out, "up to date")
	}
	return nil
}
