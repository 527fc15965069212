// Package qrexecpolicy is a read-only parser for qrexec policy files
// (spec.md §6: "plain text under /etc/qubes/policy.d/*.policy and
// /etc/qubes-rpc/policy/*, format `<source> <target> <action>
// [params]`"). The core never rewrites these files; it only consults
// them to decide whether an Admin API call is allowed.
package qrexecpolicy

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Action is the decision a matching Rule carries.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
	ActionAsk   Action = "ask"
)

// Rule is one parsed policy line. Source/Target may be exact Domain
// names, "@anyvm", "@adminvm", or "*" for wildcard; any other token,
// "@tag:"-prefixed ones included, is compared literally against the name.
// Matching is first-match-wins, mirroring iptables-style policy files.
type Rule struct {
	Source string
	Target string
	Action Action
	Params map[string]string
}

// Parse reads every rule from r, in file order. Blank lines and lines
// whose first non-space character is '#' are skipped.
func Parse(r io.Reader) ([]Rule, error) {
	var rules []Rule
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("qrexecpolicy: line %d: %w", lineNo, err)
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("qrexecpolicy: %w", err)
	}
	return rules, nil
}

func parseLine(line string) (Rule, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return Rule{}, fmt.Errorf("expected at least 3 fields, got %d: %q", len(fields), line)
	}
	action := Action(fields[2])
	switch action {
	case ActionAllow, ActionDeny, ActionAsk:
	default:
		return Rule{}, fmt.Errorf("unknown action %q", fields[2])
	}

	rule := Rule{Source: fields[0], Target: fields[1], Action: action, Params: make(map[string]string)}
	for _, f := range fields[3:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return Rule{}, fmt.Errorf("malformed param %q, expected key=value", f)
		}
		rule.Params[k] = v
	}
	return rule, nil
}

// matchToken reports whether a rule's Source/Target token matches name,
// handling the "*" wildcard and "@anyvm" (matches any Domain name,
// including dom0 only when spelled "@adminvm" or "dom0" explicitly).
func matchToken(token, name string) bool {
	switch token {
	case "*":
		return true
	case "@anyvm":
		return name != "dom0"
	case "@adminvm":
		return name == "dom0"
	default:
		return token == name
	}
}

// PolicySet is a parsed, queryable policy file set, evaluated in the
// order rules were appended across all loaded files (spec.md "policy.d"
// directories are conventionally read in filename order by the caller
// before constructing one PolicySet from the concatenation).
type PolicySet struct {
	rules []Rule
}

// NewPolicySet wraps an already-parsed rule slice.
func NewPolicySet(rules []Rule) *PolicySet { return &PolicySet{rules: rules} }

// Decide returns the Action of the first rule whose Source/Target match
// source/target, or ActionDeny if no rule matches (qrexec's documented
// default-deny behavior).
func (p *PolicySet) Decide(source, target string) Action {
	for _, r := range p.rules {
		if matchToken(r.Source, source) && matchToken(r.Target, target) {
			return r.Action
		}
	}
	return ActionDeny
}
