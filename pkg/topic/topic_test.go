// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topic

import "testing"

func TestMatchWildcards(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		topic   string
		want    bool
	}{
		{"literal", "devices/status", "devices/status", true},
		{"literal mismatch", "devices/status", "devices/other", false},
		{"plus single level", "devices/+/telemetry", "devices/abc/telemetry", true},
		{"plus rejects empty level", "a/+", "a/", false},
		{"plus rejects extra level", "a/+", "a/b/c", false},
		{"hash matches zero levels", "sensors/#", "sensors", true},
		{"hash matches many levels", "sensors/#", "sensors/a/b/c", true},
		{"hash requires prefix", "sensors/#", "other", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Build([]Binding{{Pattern: tc.pattern, SchemaID: "s1"}}, nil)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			got, _ := m.Match(tc.topic)
			if got != tc.want {
				t.Errorf("Match(%q) against %q = %v, want %v", tc.topic, tc.pattern, got, tc.want)
			}
		})
	}
}

func TestMatchInsertionOrderTieBreak(t *testing.T) {
	bindings := []Binding{
		{Pattern: "devices/+/telemetry", SchemaID: "specific"},
		{Pattern: "devices/#", SchemaID: "general"},
	}
	m, err := Build(bindings, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	matched, schemaID := m.Match("devices/x/telemetry")
	if !matched || schemaID != "specific" {
		t.Fatalf("Match = (%v, %q), want (true, specific)", matched, schemaID)
	}
}

func TestMatchInsertionOrderTieBreakReversed(t *testing.T) {
	bindings := []Binding{
		{Pattern: "devices/#", SchemaID: "general"},
		{Pattern: "devices/+/telemetry", SchemaID: "specific"},
	}
	m, err := Build(bindings, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	matched, schemaID := m.Match("devices/x/telemetry")
	if !matched || schemaID != "general" {
		t.Fatalf("Match = (%v, %q), want (true, general) since it was listed first", matched, schemaID)
	}
}

func TestBuildValidatesPatterns(t *testing.T) {
	badPatterns := []string{
		"a/#/b",   // "#" not last
		"a/",      // empty trailing level
		"a/b+c",   // "+" combined with literal
		"",        // empty pattern
	}
	for _, p := range badPatterns {
		if _, err := Build([]Binding{{Pattern: p, SchemaID: "s"}}, nil); err == nil {
			t.Errorf("Build(%q) expected error, got nil", p)
		}
	}
}

func TestClientRulesRestrictBeyondGlobalMatch(t *testing.T) {
	bindings := []Binding{{Pattern: "devices/#", SchemaID: "s1"}}
	clientRules := map[string][]string{
		"sensor-": {"devices/temp"},
	}
	m, err := Build(bindings, clientRules)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if ok, _ := m.MatchForClient("devices/temp", "sensor-01"); !ok {
		t.Error("expected allowed topic to match for client with matching prefix")
	}
	if ok, _ := m.MatchForClient("devices/other", "sensor-01"); ok {
		t.Error("expected topic outside client allow-list to be rejected")
	}
	if ok, _ := m.MatchForClient("devices/other", "unrestricted-client"); !ok {
		t.Error("expected client without a specific rule to fall through to the global match")
	}
}

func TestValidateTopicFormat(t *testing.T) {
	cases := []struct {
		topic   string
		wantErr bool
	}{
		{"devices/temp", false},
		{"", true},
		{"devices/", true},
		{"devices/+", true},
		{"devices/#", true},
	}
	for _, tc := range cases {
		err := ValidateTopicFormat(tc.topic)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidateTopicFormat(%q) err=%v, wantErr=%v", tc.topic, err, tc.wantErr)
		}
	}
}
