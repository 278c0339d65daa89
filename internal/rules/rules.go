// Package rules implements the declarative tag/risk/pay-hint engine:
// ordered predicate rules loaded from YAML and evaluated against a
// draft's text fields, producing annotations the orchestrator attaches
// without ever touching evidence.
package rules

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/someflydev/rhof/internal/model"
	"github.com/someflydev/rhof/internal/rherr"
)

// Match is a predicate over one of a draft's text fields.
type Match struct {
	Op    string  `yaml:"op"` // contains|regex|any_of|all_of|not
	Field string  `yaml:"field,omitempty"`
	Value string  `yaml:"value,omitempty"`
	Of    []Match `yaml:"of,omitempty"`
}

// Effect is what firing a rule attaches to a draft.
type Effect struct {
	Kind     string `yaml:"kind"` // apply_tag|apply_risk_flag|pay_hint
	Severity string `yaml:"severity,omitempty"`
	Reason   string `yaml:"reason,omitempty"`
	Currency string `yaml:"currency,omitempty"`
	Unit     string `yaml:"unit,omitempty"`
}

// Rule pairs a key, predicate, and effect. Rules are evaluated in file
// order and effects accumulate rather than short-circuit. Order decides
// the order of pay hints, and which rule's severity and reason are kept
// when several risk-flag rules share a key (the first one that fires).
type Rule struct {
	Key   string `yaml:"key"`
	Match Match  `yaml:"match"`
	Effect Effect `yaml:"effect"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Set is a loaded, compiled collection of rules from one file.
type Set struct {
	rules    []Rule
	compiled map[string]*regexp.Regexp
}

// Load reads a rules YAML file and compiles any regex matchers.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rherr.New(rherr.SchemaViolation, "rules.Load", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, rherr.New(rherr.SchemaViolation, "rules.Load", err)
	}

	s := &Set{rules: rf.Rules, compiled: map[string]*regexp.Regexp{}}
	for _, r := range rf.Rules {
		if r.Key == "" {
			return nil, rherr.New(rherr.SchemaViolation, "rules.Load", fmt.Errorf("%s: rule missing key", path))
		}
		if err := s.compileMatch(r.Match); err != nil {
			return nil, rherr.New(rherr.SchemaViolation, "rules.Load", fmt.Errorf("%s: rule %q: %w", path, r.Key, err))
		}
	}
	return s, nil
}

func (s *Set) compileMatch(m Match) error {
	switch m.Op {
	case "contains":
		if m.Field == "" {
			return fmt.Errorf("contains requires field")
		}
	case "regex":
		if m.Field == "" {
			return fmt.Errorf("regex requires field")
		}
		re, err := regexp.Compile(m.Value)
		if err != nil {
			return err
		}
		s.compiled[m.Value] = re
	case "any_of", "all_of":
		for _, sub := range m.Of {
			if err := s.compileMatch(sub); err != nil {
				return err
			}
		}
	case "not":
		if len(m.Of) != 1 {
			return fmt.Errorf("not requires exactly one sub-match in 'of'")
		}
		return s.compileMatch(m.Of[0])
	default:
		return fmt.Errorf("unknown match op %q", m.Op)
	}
	return nil
}

// fieldValue resolves a named field from a draft to lowercased text.
func fieldValue(d model.OpportunityDraft, field string) string {
	var v string
	switch field {
	case "title":
		if d.Title.Populated() {
			v = *d.Title.Value
		}
	case "description":
		if d.Description.Populated() {
			v = *d.Description.Value
		}
	case "company":
		if d.Company.Populated() {
			v = *d.Company.Value
		}
	case "location":
		if d.Location.Populated() {
			v = *d.Location.Value
		}
	default:
		if f, ok := d.RawExtras[field]; ok && f.Populated() {
			v = *f.Value
		}
	}
	return strings.ToLower(v)
}

func (s *Set) evalMatch(m Match, d model.OpportunityDraft) bool {
	switch m.Op {
	case "contains":
		return strings.Contains(fieldValue(d, m.Field), strings.ToLower(m.Value))
	case "regex":
		re := s.compiled[m.Value]
		if re == nil {
			return false
		}
		return re.MatchString(fieldValue(d, m.Field))
	case "any_of":
		for _, sub := range m.Of {
			if s.evalMatch(sub, d) {
				return true
			}
		}
		return false
	case "all_of":
		for _, sub := range m.Of {
			if !s.evalMatch(sub, d) {
				return false
			}
		}
		return true
	case "not":
		return !s.evalMatch(m.Of[0], d)
	default:
		return false
	}
}

// Outcome is the accumulated set of annotations from evaluating one or
// more rule Sets against a draft.
type Outcome struct {
	Tags      []string
	RiskFlags []model.RiskFlag
	PayHints  []Effect
}

// Evaluate runs every rule of every Set in sets against d, in order, and
// returns the accumulated Outcome. Tag and risk-flag keys are
// deduplicated and sorted by key.
func Evaluate(sets []*Set, d model.OpportunityDraft) Outcome {
	tagSeen := map[string]bool{}
	riskSeen := map[string]bool{}
	var out Outcome

	for _, s := range sets {
		for _, r := range s.rules {
			if !s.evalMatch(r.Match, d) {
				continue
			}
			switch r.Effect.Kind {
			case "apply_tag":
				if !tagSeen[r.Key] {
					tagSeen[r.Key] = true
					out.Tags = append(out.Tags, r.Key)
				}
			case "apply_risk_flag":
				if !riskSeen[r.Key] {
					riskSeen[r.Key] = true
					out.RiskFlags = append(out.RiskFlags, model.RiskFlag{
						Key:      r.Key,
						Severity: r.Effect.Severity,
						Reason:   r.Effect.Reason,
					})
				}
			case "pay_hint":
				out.PayHints = append(out.PayHints, r.Effect)
			}
		}
	}

	sort.Strings(out.Tags)
	sort.Slice(out.RiskFlags, func(i, j int) bool { return out.RiskFlags[i].Key < out.RiskFlags[j].Key })

	return out
}
