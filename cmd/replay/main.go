// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command replay is the operator tool for inspecting and resending
// quarantined messages. It never touches the running proxy process; it
// opens the same quarantine store and, for send, a short-lived publisher
// connection to the upstream broker, both read from the proxy's own
// configuration file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "replay",
		Short: "Inspect and resend quarantined MQTT messages",
	}

	root.AddCommand(newListCmd(), newSendCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
