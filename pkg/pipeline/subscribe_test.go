// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"reflect"
	"testing"
)

func TestCoverageFiltersPassesThroughWildcards(t *testing.T) {
	got := coverageFilters([]string{"devices/+/telemetry", "sensors/#"})
	want := []string{"devices/+/telemetry", "sensors/#"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("coverageFilters = %v, want %v", got, want)
	}
}

func TestCoverageFiltersDedupes(t *testing.T) {
	got := coverageFilters([]string{"a/b", "a/b", "a/b"})
	want := []string{"a/b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("coverageFilters = %v, want %v", got, want)
	}
}

func TestCoverageFiltersFallsBackToCatchAllForRegex(t *testing.T) {
	got := coverageFilters([]string{"devices/+/telemetry", "regex:^audit/.*$"})
	want := []string{"devices/+/telemetry", "#"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("coverageFilters = %v, want %v", got, want)
	}
}

func TestCoverageFiltersDoesNotDuplicateExplicitCatchAll(t *testing.T) {
	got := coverageFilters([]string{"#", "regex:^audit/.*$"})
	want := []string{"#"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("coverageFilters = %v, want %v", got, want)
	}
}
