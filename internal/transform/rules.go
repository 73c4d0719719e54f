package transform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/edm/edm/pkg/edm"
)

// Match selects events. Every non-empty criterion must hold; within a
// criterion any listed value is enough. An empty Match selects everything.
type Match struct {
	Domains      []edm.Domain   `yaml:"domains"`
	Codebooks    []edm.Codebook `yaml:"codebooks"`
	CodePrefixes []string       `yaml:"code_prefixes"`
	Concepts     []string       `yaml:"concepts"`
}

// Rule pairs a Match with the edits applied to matching events.
// Removals run before additions; Drop filters the event out entirely.
type Rule struct {
	Name           string   `yaml:"name"`
	Match          Match    `yaml:"match"`
	AddConcepts    []string `yaml:"add_concepts"`
	RemoveConcepts []string `yaml:"remove_concepts"`
	Drop           bool     `yaml:"drop"`
}

// RuleSet is an ordered list of rules. Each rule sees the concepts left by
// the rules before it.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes a YAML rule file. Unknown keys, unknown domain names and
// unknown codebooks are errors.
func ParseRules(data []byte) (*RuleSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var rs RuleSet
	if err := dec.Decode(&rs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule[%d]", i)
		}
		if !r.Drop && len(r.AddConcepts) == 0 && len(r.RemoveConcepts) == 0 {
			return nil, fmt.Errorf("rule %s: no action", r.Name)
		}
	}
	return &rs, nil
}

// LoadRules reads and parses a YAML rule file.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	rs, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Matches reports whether ev is selected by m.
func (m *Match) Matches(ev *edm.Event) bool {
	if len(m.Domains) > 0 && !slices.Contains(m.Domains, ev.Domain()) {
		return false
	}
	if len(m.Codebooks) > 0 || len(m.CodePrefixes) > 0 {
		code, ok := edm.CodeOf(ev.Context.Facts)
		if !ok {
			return false
		}
		if len(m.Codebooks) > 0 && (code.Codebook == nil || !slices.Contains(m.Codebooks, *code.Codebook)) {
			return false
		}
		if len(m.CodePrefixes) > 0 && !slices.ContainsFunc(m.CodePrefixes, func(p string) bool {
			return strings.HasPrefix(code.Code, p)
		}) {
			return false
		}
	}
	if len(m.Concepts) > 0 && !slices.ContainsFunc(ev.Concepts, func(c string) bool {
		return slices.Contains(m.Concepts, c)
	}) {
		return false
	}
	return true
}

// Apply runs the rules against ev in order.
func (rs *RuleSet) Apply(ev *edm.Event) (*edm.Event, error) {
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if !r.Match.Matches(ev) {
			continue
		}
		if r.Drop {
			return nil, nil
		}
		if len(r.RemoveConcepts) > 0 {
			ev.Concepts = slices.DeleteFunc(ev.Concepts, func(c string) bool {
				return slices.Contains(r.RemoveConcepts, c)
			})
		}
		for _, c := range r.AddConcepts {
			if !slices.Contains(ev.Concepts, c) {
				ev.Concepts = append(ev.Concepts, c)
			}
		}
	}
	return ev, nil
}

// Func returns Apply as a Func. A nil or empty rule set yields Identity.
func (rs *RuleSet) Func() Func {
	if rs == nil || len(rs.Rules) == 0 {
		return Identity
	}
	return rs.Apply
}
