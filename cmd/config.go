// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoorlab

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/spoorlab/dccstation/pkg/station"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the station configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init PATH",
	Short: "Write the default configuration to PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.OpenFile(args[0], os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return fmt.Errorf("creating %s: %w", args[0], err)
		}
		defer f.Close()
		if err := station.SaveConfig(f, station.DefaultConfig()); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", args[0])
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check PATH",
	Short: "Validate a configuration file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadStationConfig(args[0])
		if err != nil {
			return err
		}
		prof, err := station.ProfileFor(cfg.ClockHz)
		if err != nil {
			return err
		}
		fmt.Printf("OK: clock %d Hz (prescaler %d), %d buffers, %d pending slots, preamble %d/%d, postamble %d\n",
			cfg.ClockHz, prof.Prescaler, cfg.Buffers, cfg.PendingSlots,
			cfg.Preamble, cfg.ServicePreamble, cfg.Postamble)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}
