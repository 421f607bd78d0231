// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Spoorlab

package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/spoorlab/dccstation/pkg/dcc"
	"github.com/spoorlab/dccstation/pkg/station"
)

var (
	encodePreamble  uint8
	encodePostamble uint8
	encodeReverse   bool
)

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Compose a DCC packet and dump its track bitstream offline",
	Long: `Compose a DCC packet locally and print its bytes, checksum, run-length
transition array and the resulting track waveform. No connection is made;
this is an offline debugging aid for decoder and timing work.`,
}

var encodeDriveCmd = &cobra.Command{
	Use:   "drive ADDRESS SPEED",
	Short: "Dump a speed-and-direction packet",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, err := parseUintArg(args[0], "address", 16)
		if err != nil {
			return err
		}
		speed, err := parseUintArg(args[1], "speed", 8)
		if err != nil {
			return err
		}
		dir := dcc.Forward
		if encodeReverse {
			dir = dcc.Reverse
		}
		pkt, err := dcc.Motion(uint16(addr), uint8(speed), dir, dcc.Speed28)
		if err != nil {
			return err
		}
		return dumpPacket(pkt)
	},
}

var encodeAccessoryCmd = &cobra.Command{
	Use:   "accessory ADDRESS on|off",
	Short: "Dump an accessory packet",
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
		pkt, err := dcc.Accessory(uint16(addr), on)
		if err != nil {
			return err
		}
		return dumpPacket(pkt)
	},
}

var encodeFunctionCmd = &cobra.Command{
	Use:   "function ADDRESS FUNCTION on|off",
	Short: "Dump a function group packet",
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
		pkt, err := dcc.Function(uint16(addr), uint8(fn), on)
		if err != nil {
			return err
		}
		return dumpPacket(pkt)
	},
}

var encodeIdleCmd = &cobra.Command{
	Use:   "idle",
	Short: "Dump the idle packet",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return dumpPacket(dcc.Idle())
	},
}

var encodeRawCmd = &cobra.Command{
	Use:   "raw BYTE [BYTE...]",
	Short: "Dump a packet from raw body bytes (checksum appended)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := make([]byte, 0, len(args))
		for _, a := range args {
			v, err := strconv.ParseUint(a, 0, 8)
			if err != nil {
				return fmt.Errorf("invalid byte %q: %v", a, err)
			}
			body = append(body, byte(v))
		}
		pkt, err := dcc.Raw(body...)
		if err != nil {
			return err
		}
		return dumpPacket(pkt)
	},
}

func init() {
	encodeCmd.PersistentFlags().Uint8Var(&encodePreamble, "preamble", dcc.PreambleBits, "Preamble one-run length")
	encodeCmd.PersistentFlags().Uint8Var(&encodePostamble, "postamble", dcc.PostambleBits, "Postamble one-run length")
	encodeCmd.PersistentFlags().BoolVarP(&encodeReverse, "reverse", "r", false, "Drive in reverse")

	encodeCmd.AddCommand(encodeDriveCmd)
	encodeCmd.AddCommand(encodeAccessoryCmd)
	encodeCmd.AddCommand(encodeFunctionCmd)
	encodeCmd.AddCommand(encodeIdleCmd)
	encodeCmd.AddCommand(encodeRawCmd)
	rootCmd.AddCommand(encodeCmd)
}

func dumpPacket(pkt dcc.Packet) error {
	var runs [dcc.MaxTransitions]uint8
	if err := dcc.EncodeBitstream(pkt, encodePreamble, encodePostamble, &runs); err != nil {
		return err
	}

	bits := dcc.BitLength(runs[:])
	ones := 0
	for _, b := range dcc.Bits(runs[:]) {
		if b {
			ones++
		}
	}
	zeros := bits - ones
	wire := time.Duration(ones*2*station.OneHalfBitMicros+zeros*2*station.ZeroHalfBitMicros) * time.Microsecond

	fmt.Printf("Packet:   % X\n", pkt.Bytes())
	fmt.Printf("Checksum: 0x%02X\n", pkt.Checksum())
	fmt.Printf("Runs:     %s\n", dcc.FormatRuns(runs[:]))
	fmt.Printf("Bits:     %s\n", dcc.FormatBits(runs[:]))
	fmt.Printf("Length:   %d bits (%d ones, %d zeros), %s on the wire\n",
		bits, ones, zeros, wire)
	return nil
}
