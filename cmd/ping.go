// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoorlab

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spoorlab/dccstation/pkg/throttlelink"
)

var (
	pingCount    int
	pingInterval time.Duration
	pingTimeout  time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check station liveness over the throttle link",
	Long: `Send PING_REQUEST messages to a running station and report round-trip
times and the station's uptime.

Exit codes:
  0 - all pings answered
  1 - some pings lost
  2 - connection failed`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runPing())
	},
}

func init() {
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 4, "Number of pings to send (0 = forever)")
	pingCmd.Flags().DurationVarP(&pingInterval, "interval", "i", time.Second, "Delay between pings")
	pingCmd.Flags().DurationVarP(&pingTimeout, "timeout", "t", 3*time.Second, "Per-ping response timeout")
	rootCmd.AddCommand(pingCmd)
}

func runPing() int {
	conn, connDesc, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	defer conn.Close()
	fmt.Printf("Pinging station via %s\n\n", connDesc)

	responses := readResponses(conn)

	sent, answered := 0, 0
	for i := 0; pingCount == 0 || i < pingCount; i++ {
		if i > 0 {
			time.Sleep(pingInterval)
		}

		frame, err := throttlelink.NewEncoder().Encode(throttlelink.NewPingRequest())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 2
		}
		start := time.Now()
		if _, err := conn.Write(frame); err != nil {
			fmt.Fprintf(os.Stderr, "Error: write failed: %v\n", err)
			return 2
		}
		sent++

		if uptime, ok := awaitPong(responses); ok {
			answered++
			fmt.Printf("pong: rtt=%s uptime=%s\n",
				time.Since(start).Round(time.Microsecond), formatUptime(uptime))
		} else {
			fmt.Println("timeout")
		}
	}

	fmt.Printf("\n%d sent, %d answered, %d lost\n", sent, answered, sent-answered)
	if answered < sent {
		return 1
	}
	return 0
}

func awaitPong(responses <-chan *throttlelink.Message) (uint64, bool) {
	deadline := time.After(pingTimeout)
	for {
		select {
		case resp, ok := <-responses:
			if !ok {
				return 0, false
			}
			if resp.Type() != throttlelink.MsgPingResponse {
				continue
			}
			uptime, _ := throttlelink.GetMapUint(resp.PayloadMap(), throttlelink.KeyUptimeMs)
			return uptime, true
		case <-deadline:
			return 0, false
		}
	}
}

// formatUptime renders milliseconds as a short human duration.
func formatUptime(ms uint64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return d.Round(time.Millisecond).String()
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	if days > 0 {
		return fmt.Sprintf("%dd%dh%dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	return fmt.Sprintf("%dm%ds", minutes, (d-minutes*time.Minute)/time.Second)
}
