// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoorlab

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/spoorlab/dccstation/pkg/station"
	"github.com/spoorlab/dccstation/pkg/throttlelink"
)

var statusTimeout time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a one-shot station status snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

func init() {
	statusCmd.Flags().DurationVarP(&statusTimeout, "timeout", "t", 3*time.Second, "Response timeout")
	rootCmd.AddCommand(statusCmd)
}

func runStatus() error {
	conn, connDesc, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	frame, err := throttlelink.NewEncoder().Encode(throttlelink.NewStatusRequest())
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("sending status request: %w", err)
	}

	responses := readResponses(conn)
	deadline := time.After(statusTimeout)
	for {
		select {
		case resp, ok := <-responses:
			if !ok {
				return fmt.Errorf("connection closed before status")
			}
			if resp.Type() != throttlelink.MsgStatus {
				continue
			}
			printStatus(connDesc, throttlelink.ParseStatus(resp.PayloadMap()))
			return nil
		case <-deadline:
			return fmt.Errorf("timeout waiting for status")
		}
	}
}

func printStatus(connDesc string, s throttlelink.StatusSnapshot) {
	fmt.Printf("Station via %s\n", connDesc)
	fmt.Printf("  Free buffers: %d\n", s.FreeBuffers)
	fmt.Printf("  Packets sent: %d\n", s.PacketsSent)
	fmt.Printf("  IRQ delay:    %d cycles\n", s.IRQDelay)
	fmt.Printf("  Phase syncs:  %d\n", s.IRQSyncs)
	if len(s.Scan) == 0 {
		fmt.Printf("  Live targets: none (idle buffer only)\n")
		return
	}
	fmt.Printf("  Live targets:\n")
	for _, r := range s.Scan {
		fmt.Printf("    %-10s %5d  %-24s repeats=%d pending=%d\n",
			station.TargetKind(r.Kind).String(), r.Address,
			station.FormatAction(r.Action), r.Repeats, r.Pending)
	}
}
