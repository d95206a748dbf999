// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topic implements MQTT wildcard topic matching: a trie-based
// TopicMatcher that resolves a concrete topic to the schema id bound to the
// winning pattern, plus an optional per-client allow-list overlay.
package topic

import (
	"regexp"
	"strings"

	perrors "github.com/kemalerbakirci/mqtt-schema-governance-proxy/pkg/errors"
)

const maxTopicLength = 65535

// Binding is a (pattern, schema_id) pair as loaded from configuration. The
// binding set is ordered; a binding's index in the slice passed to Build
// is its position for tie-breaking.
type Binding struct {
	Pattern  string
	SchemaID string
}

// ClientRule restricts which topics a client (or a client-id prefix) may
// publish to, independent of the global pattern set. A key may name an
// exact client id or a prefix; the longest matching prefix wins, and "*" is
// the default bucket applied when no more specific rule exists.
type ClientRule struct {
	Prefix        string
	AllowedTopics []string
}

type node struct {
	children map[string]*node
	plus     *node
	hash     *terminal
	terminal *terminal
}

type terminal struct {
	schemaID string
	order    int
	pattern  string
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// regexRule is the "regex:" escape hatch: a pattern of the form
// "regex:<expr>" is compiled once at build time and tried, in insertion
// order, after the trie has been searched exhaustively.
type regexRule struct {
	re       *regexp.Regexp
	schemaID string
	order    int
	pattern  string
}

// Matcher matches concrete MQTT topics against a precompiled set of
// wildcard patterns and an optional per-client rule overlay.
type Matcher struct {
	root         *node
	regexRules   []regexRule
	clientRules  []ClientRule // sorted longest-prefix first
	globalRules  []string     // rules under the "*" bucket, if any
}

// Build compiles a Matcher from an ordered binding list and an optional
// client rule map. It fails startup-style: any malformed pattern is
// reported and no partial matcher is returned.
func Build(bindings []Binding, clientRules map[string][]string) (*Matcher, error) {
	m := &Matcher{root: newNode()}

	for i, b := range bindings {
		if strings.HasPrefix(b.Pattern, "regex:") {
			expr := strings.TrimPrefix(b.Pattern, "regex:")
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, perrors.New("Build", "TopicMatcher", "", b.Pattern, err)
			}
			m.regexRules = append(m.regexRules, regexRule{re: re, schemaID: b.SchemaID, order: i, pattern: b.Pattern})
			continue
		}
		if err := validatePattern(b.Pattern); err != nil {
			return nil, perrors.New("Build", "TopicMatcher", "", b.Pattern, err)
		}
		insert(m.root, b.Pattern, b.SchemaID, i)
	}

	for prefix, topics := range clientRules {
		if prefix == "*" {
			m.globalRules = topics
			continue
		}
		m.clientRules = append(m.clientRules, ClientRule{Prefix: prefix, AllowedTopics: topics})
	}
	// Longest prefix first so lookup can stop at the first match.
	for i := 0; i < len(m.clientRules); i++ {
		for j := i + 1; j < len(m.clientRules); j++ {
			if len(m.clientRules[j].Prefix) > len(m.clientRules[i].Prefix) {
				m.clientRules[i], m.clientRules[j] = m.clientRules[j], m.clientRules[i]
			}
		}
	}

	return m, nil
}

func insert(root *node, pattern, schemaID string, order int) {
	levels := strings.Split(pattern, "/")
	cur := root
	for _, lvl := range levels {
		switch lvl {
		case "+":
			if cur.plus == nil {
				cur.plus = newNode()
			}
			cur = cur.plus
		case "#":
			cur.hash = &terminal{schemaID: schemaID, order: order, pattern: pattern}
			return
		default:
			child, ok := cur.children[lvl]
			if !ok {
				child = newNode()
				cur.children[lvl] = child
			}
			cur = child
		}
	}
	cur.terminal = &terminal{schemaID: schemaID, order: order, pattern: pattern}
}

// ValidatePatternSyntax checks a single configured pattern the same way
// Build does, without compiling a full Matcher. A "regex:"-prefixed pattern
// is checked by compiling its expression, as Build does.
func ValidatePatternSyntax(pattern string) error {
	if strings.HasPrefix(pattern, "regex:") {
		_, err := regexp.Compile(strings.TrimPrefix(pattern, "regex:"))
		return err
	}
	return validatePattern(pattern)
}

// validatePattern enforces spec §4.1's build-time rules: "#" only as the
// final level, "+" occupying a whole level, and no empty levels (a single
// trailing "/" is rejected).
func validatePattern(pattern string) error {
	if pattern == "" {
		return perrors.ErrTopicMalformed
	}
	if len(pattern) > maxTopicLength || strings.ContainsRune(pattern, 0) {
		return perrors.ErrTopicMalformed
	}
	levels := strings.Split(pattern, "/")
	for i, lvl := range levels {
		switch {
		case lvl == "#":
			if i != len(levels)-1 {
				return perrors.ErrTopicMalformed
			}
		case lvl == "":
			return perrors.ErrTopicMalformed
		case lvl == "+":
			// fine, occupies the whole level
		case strings.ContainsAny(lvl, "+#"):
			// "+"/"#" combined with literal characters within a level
			return perrors.ErrTopicMalformed
		}
	}
	return nil
}

// Match resolves a concrete topic to the winning schema id, per the
// earliest-inserted-pattern-wins tie-break rule.
func (m *Matcher) Match(topic string) (bool, string) {
	levels := strings.Split(topic, "/")
	var best *terminal

	var walk func(n *node, i int)
	walk = func(n *node, i int) {
		if n == nil {
			return
		}
		if n.hash != nil && (best == nil || n.hash.order < best.order) {
			best = n.hash
		}
		if i == len(levels) {
			if n.terminal != nil && (best == nil || n.terminal.order < best.order) {
				best = n.terminal
			}
			return
		}
		if child, ok := n.children[levels[i]]; ok {
			walk(child, i+1)
		}
		if n.plus != nil && levels[i] != "" {
			walk(n.plus, i+1)
		}
	}
	walk(m.root, 0)

	if best != nil {
		return true, best.schemaID
	}

	for _, rr := range m.regexRules {
		if rr.re.MatchString(topic) {
			return true, rr.schemaID
		}
	}

	return false, ""
}

// MatchForClient applies the global pattern match and then, if a client
// rule (exact id or longest matching prefix) exists, additionally requires
// the topic to appear in that rule's allow-list.
func (m *Matcher) MatchForClient(topic, clientID string) (bool, string) {
	matched, schemaID := m.Match(topic)
	if !matched {
		return false, ""
	}

	allowed := m.globalRules
	for _, cr := range m.clientRules {
		if strings.HasPrefix(clientID, cr.Prefix) {
			allowed = cr.AllowedTopics
			break
		}
	}
	if allowed == nil {
		return true, schemaID
	}
	for _, t := range allowed {
		if t == topic || matchesPattern(t, topic) {
			return true, schemaID
		}
	}
	return false, ""
}

// matchesPattern reports whether a single wildcard pattern matches a
// concrete topic, without building a trie. Used for per-client allow-lists,
// which are typically small enough that a direct walk beats compiling one.
func matchesPattern(pattern, topic string) bool {
	pl := strings.Split(pattern, "/")
	tl := strings.Split(topic, "/")
	i := 0
	for ; i < len(pl); i++ {
		if pl[i] == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if pl[i] == "+" {
			if tl[i] == "" {
				return false
			}
			continue
		}
		if pl[i] != tl[i] {
			return false
		}
	}
	return i == len(tl)
}

// ValidateTopicFormat checks that a concrete topic (not a pattern) conforms
// to MQTT rules: non-empty, bounded length, no null byte, no wildcards, and
// no empty level (a trailing "/" is rejected).
func ValidateTopicFormat(t string) error {
	if t == "" || len(t) > maxTopicLength || strings.ContainsRune(t, 0) {
		return perrors.ErrTopicMalformed
	}
	if strings.ContainsAny(t, "+#") {
		return perrors.ErrTopicMalformed
	}
	for _, lvl := range strings.Split(t, "/") {
		if lvl == "" {
			return perrors.ErrTopicMalformed
		}
	}
	return nil
}
