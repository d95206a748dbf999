// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command proxy runs the MQTT schema governance proxy: it subscribes to a
// configured set of topics, validates every message's topic and payload,
// forwards conforming messages to an upstream broker, and quarantines the
// rest.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var overrides []string

func main() {
	root := &cobra.Command{
		Use:   "proxy",
		Short: "MQTT schema governance proxy",
		RunE:  runRun,
	}
	root.Flags().String("config", "", "path to the proxy's YAML configuration file")
	root.Flags().Bool("dry-run", false, "validate and audit messages without forwarding or quarantining side effects on the publish path")
	root.Flags().String("log-level", "", "override global.log_level")
	root.Flags().Bool("validate-config", false, "load and validate the configuration, then exit")
	root.Flags().StringArrayVar(&overrides, "override", nil, "override a config key, e.g. --override global.dry_run=true")
	root.MarkFlagRequired("config")

	// "run" is kept as an explicit alias of the root invocation for
	// operators who prefer naming the action, e.g. systemd unit files
	// written against an earlier version of this CLI.
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the proxy until interrupted (alias for the root command)",
		RunE:  runRun,
	}
	runCmd.Flags().AddFlagSet(root.Flags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the proxy version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	root.AddCommand(runCmd, versionCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitFatalStartup)
	}
}

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

const (
	exitOK           = 0
	exitConfigError  = 2
	exitFatalStartup = 3
	exitInterrupted  = 130
)
