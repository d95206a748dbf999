// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import "strings"

// coverageFilters converts the configured topic patterns into the set of
// MQTT SUBSCRIBE filters needed to receive every message a pattern could
// match. Ordinary wildcard patterns already use MQTT's own "+"/"#" syntax,
// so they are used as-is; a "regex:" pattern has no broker-side
// equivalent, so it falls back to subscribing to everything ("#") and
// relying on TopicMatcher to do the actual filtering in-process.
func coverageFilters(patterns []string) []string {
	seen := make(map[string]bool)
	var filters []string

	needsCatchAll := false
	for _, p := range patterns {
		if strings.HasPrefix(p, "regex:") {
			needsCatchAll = true
			continue
		}
		if !seen[p] {
			seen[p] = true
			filters = append(filters, p)
		}
	}

	if needsCatchAll && !seen["#"] {
		filters = append(filters, "#")
	}

	return filters
}
