// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Spoorlab
//
// dccstation - DCC command station core and throttle tools.

package main

import (
	"os"

	"github.com/spoorlab/dccstation/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
