// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoorlab

package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/spoorlab/dccstation/pkg/dcc"
	"github.com/spoorlab/dccstation/pkg/throttlelink"
)

var (
	throttleReverse  bool
	throttleDuration uint8
	throttleReply    string
	throttleTimeout  time.Duration
)

var throttleCmd = &cobra.Command{
	Use:   "throttle",
	Short: "Send a command over the throttle link",
	Long: `Send a single drive, accessory, function, state or emergency stop
command to a running station and wait for its acknowledgement.

With --reply start or --reply end the command also waits for the station's
transmission report: "start" answers when the packet first reaches the
track, "end" when its transmission buffer is released.`,
}

var driveCmd = &cobra.Command{
	Use:   "drive ADDRESS SPEED",
	Short: "Set a locomotive's speed and direction",
	Long: `Set a locomotive's speed. Speed 0 stops the locomotive, 1 is the
emergency stop, 2..127 select speed steps. Direction is forward unless
--reverse is given.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseUintArg(args[0], "address", 16)
		if err != nil {
			return err
		}
		speed, err := parseUintArg(args[1], "speed", 8)
		if err != nil {
			return err
		}
		reply, err := parseReplyPolicy(throttleReply)
		if err != nil {
			return err
		}
		dir := uint8(dcc.Forward)
		if throttleReverse {
			dir = uint8(dcc.Reverse)
		}
		msg := throttlelink.NewDriveCommand(uint16(addr), uint8(speed), dir, throttleDuration, reply)
		return sendCommand(msg, reply)
	},
}

var accessoryCmd = &cobra.Command{
	Use:   "accessory ADDRESS on|off",
	Short: "Switch an accessory decoder output",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseUintArg(args[0], "address", 16)
		if err != nil {
			return err
		}
		on, err := parseOnOff(args[1])
		if err != nil {
			return err
		}
		reply, err := parseReplyPolicy(throttleReply)
		if err != nil {
			return err
		}
		msg := throttlelink.NewAccessoryCommand(uint16(addr), on, throttleDuration, reply)
		return sendCommand(msg, reply)
	},
}

var functionCmd = &cobra.Command{
	Use:   "function ADDRESS FUNCTION on|off",
	Short: "Set a decoder function (F0..F28)",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseUintArg(args[0], "address", 16)
		if err != nil {
			return err
		}
		fn, err := parseUintArg(args[1], "function", 8)
		if err != nil {
			return err
		}
		on, err := parseOnOff(args[2])
		if err != nil {
			return err
		}
		reply, err := parseReplyPolicy(throttleReply)
		if err != nil {
			return err
		}
		msg := throttlelink.NewFunctionCommand(uint16(addr), uint8(fn), on, throttleDuration, reply)
		return sendCommand(msg, reply)
	},
}

var stateCmd = &cobra.Command{
	Use:   "state ADDRESS SPEED FUNCTIONS",
	Short: "Radiate a locomotive's full state",
	Long: `Radiate a locomotive's complete state: speed and direction plus the
explicit function bitmap. FUNCTIONS is the 29-bit bitmap (bit 0 = F0 ..
bit 28 = F28), accepted in decimal or hex (0x...).`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseUintArg(args[0], "address", 16)
		if err != nil {
			return err
		}
		speed, err := parseUintArg(args[1], "speed", 8)
		if err != nil {
			return err
		}
		functions, err := strconv.ParseUint(args[2], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid functions bitmap %q: %v", args[2], err)
		}
		reply, err := parseReplyPolicy(throttleReply)
		if err != nil {
			return err
		}
		dir := uint8(dcc.Forward)
		if throttleReverse {
			dir = uint8(dcc.Reverse)
		}
		msg := throttlelink.NewStateCommand(uint16(addr), uint8(speed), dir, uint32(functions), throttleDuration, reply)
		return sendCommand(msg, reply)
	},
}

var estopCmd = &cobra.Command{
	Use:   "estop",
	Short: "Broadcast an emergency stop to all locomotives",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendCommand(throttlelink.NewEmergencyStop(), throttlelink.ReplyPolicyNone)
	},
}

func init() {
	throttleCmd.PersistentFlags().BoolVarP(&throttleReverse, "reverse", "r", false, "Drive in reverse")
	throttleCmd.PersistentFlags().Uint8VarP(&throttleDuration, "repeat", "n", 0, "Repeat count (0 = until overwritten)")
	throttleCmd.PersistentFlags().StringVar(&throttleReply, "reply", "none", "Transmission report: none, start or end")
	throttleCmd.PersistentFlags().DurationVarP(&throttleTimeout, "timeout", "t", 5*time.Second, "Response timeout")

	throttleCmd.AddCommand(driveCmd)
	throttleCmd.AddCommand(accessoryCmd)
	throttleCmd.AddCommand(functionCmd)
	throttleCmd.AddCommand(stateCmd)
	throttleCmd.AddCommand(estopCmd)
	rootCmd.AddCommand(throttleCmd)
}

func parseUintArg(s, name string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %v", name, s, err)
	}
	return v, nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "1":
		return true, nil
	case "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func parseReplyPolicy(s string) (throttlelink.ReplyPolicy, error) {
	switch s {
	case "none", "":
		return throttlelink.ReplyPolicyNone, nil
	case "start":
		return throttlelink.ReplyPolicyAtStart, nil
	case "end":
		return throttlelink.ReplyPolicyAtEnd, nil
	}
	return throttlelink.ReplyPolicyNone, fmt.Errorf("invalid reply policy %q (use none, start or end)", s)
}

// sendCommand writes the command over the connection, waits for the
// station's ACK or NACK, and when a reply policy was requested keeps
// waiting for the transmission report.
func sendCommand(msg *throttlelink.Message, reply throttlelink.ReplyPolicy) error {
	conn, connDesc, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Printf("Connected via %s\n", connDesc)

	frame, err := throttlelink.NewEncoder().Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("sending command: %w", err)
	}

	responses := readResponses(conn)
	deadline := time.After(throttleTimeout)

	// First response: the station accepts or rejects the command.
	acked := false
	for !acked {
		select {
		case resp, ok := <-responses:
			if !ok {
				return fmt.Errorf("connection closed before acknowledgement")
			}
			switch resp.Type() {
			case throttlelink.MsgAck:
				fmt.Println("Accepted")
				acked = true
			case throttlelink.MsgNack:
				reason, _ := throttlelink.GetMapString(resp.PayloadMap(), throttlelink.KeyText)
				return fmt.Errorf("rejected: %s", reason)
			default:
				// Unrelated traffic (status, other clients' replies)
			}
		case <-deadline:
			return fmt.Errorf("timeout waiting for acknowledgement")
		}
	}

	if reply == throttlelink.ReplyPolicyNone {
		return nil
	}

	// Second response: the transmission report.
	for {
		select {
		case resp, ok := <-responses:
			if !ok {
				return fmt.Errorf("connection closed before transmission report")
			}
			if resp.Type() != throttlelink.MsgReply {
				continue
			}
			text, _ := throttlelink.GetMapString(resp.PayloadMap(), throttlelink.KeyText)
			fmt.Printf("Transmitted: %s\n", text)
			return nil
		case <-deadline:
			return fmt.Errorf("timeout waiting for transmission report")
		}
	}
}

// readResponses decodes inbound frames on a background goroutine. The
// channel closes when the connection does. Decode errors are skipped;
// a client joining mid-stream resynchronizes on the next start byte.
func readResponses(conn Connection) <-chan *throttlelink.Message {
	out := make(chan *throttlelink.Message, 8)
	go func() {
		defer close(out)
		decoder := throttlelink.NewDecoder()
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			for _, b := range buf[:n] {
				msg, err := decoder.DecodeByte(b)
				if err != nil {
					continue
				}
				if msg != nil {
					out <- msg
				}
			}
		}
	}()
	return out
}
