// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command resgraph hosts a resource graph engine.
//
// Usage:
//
//	resgraph serve --config resgraph.yaml
//	resgraph dump [path] --config resgraph.yaml
//	resgraph schema types
//	resgraph schema validate extra_types.yaml
//
// Example requests against a running server:
//
//	# Health check
//	curl http://127.0.0.1:8089/health
//
//	# Top-level switches
//	curl 'http://127.0.0.1:8089/v1/resources?type=Switch' | jq
//
//	# Follow structural changes below a resource
//	websocat ws://127.0.0.1:8089/v1/watch/livingRoom
package main

import (
	"os"

	"github.com/AleutianAI/resgraph/pkg/ux"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.NewPrinter(os.Stderr).Error("%v", err)
		os.Exit(1)
	}
}
