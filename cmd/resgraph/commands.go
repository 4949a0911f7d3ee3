// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	dumpValues bool

	rootCmd = &cobra.Command{
		Use:           "resgraph",
		Short:         "Host and inspect a typed resource graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Load the graph and serve it until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runServe, // Defined in serve.go
	}

	dumpCmd = &cobra.Command{
		Use:   "dump [path]",
		Short: "Print the persisted graph, or the subtree at path, as a tree",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runDump, // Defined in dump.go
	}

	// --- Schema ---
	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Inspect and check resource types",
	}
	schemaTypesCmd = &cobra.Command{
		Use:   "types",
		Short: "List the built-in and configured resource types",
		Args:  cobra.NoArgs,
		RunE:  runSchemaTypes, // Defined in schema.go
	}
	schemaValidateCmd = &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a type file against the built-in and configured types",
		Args:  cobra.ExactArgs(1),
		RunE:  runSchemaValidate, // Defined in schema.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	dumpCmd.Flags().BoolVar(&dumpValues, "values", true, "Show scalar values")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.AddCommand(schemaTypesCmd)
	schemaCmd.AddCommand(schemaValidateCmd)
}
