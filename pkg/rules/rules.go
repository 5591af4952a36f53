package rules

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/autopatch-io/autopatch/pkg/seq"
)

// Rule errors.
var (
	ErrInvalidPattern = errors.New("invalid rule pattern")
)

// Wildcard matches any client name, including an unresolvable one.
const Wildcard = "*"

// Kind selects one of the two rule lists in a Set.
type Kind uint8

const (
	// Allow - rules that permit links.
	Allow Kind = iota

	// Disallow - rules that veto links.
	Disallow
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Disallow:
		return "disallow"
	default:
		return "unknown"
	}
}

// Rule pairs a producer-side pattern with a consumer-side pattern.
type Rule struct {
	// Output matches the producing client's name.
	Output string

	// Input matches the consuming client's name.
	Input string
}

// match returns the strength with which the rule matches a resolved name
// pair. An empty name matches only the wildcard.
func (r Rule) match(outName, inName string) Strength {
	if r.Output == Wildcard {
		switch {
		case r.Input == Wildcard:
			return StrengthVeryVague
		case strings.Contains(inName, r.Input):
			return StrengthVague
		default:
			return StrengthNone
		}
	}
	if !strings.Contains(outName, r.Output) {
		return StrengthNone
	}
	switch {
	case r.Input == Wildcard:
		return StrengthVague
	case strings.Contains(inName, r.Input):
		return StrengthSpecific
	default:
		return StrengthNone
	}
}

// Decision is the full outcome of evaluating one candidate link.
type Decision struct {
	// Src and Dst are the candidate producer and consumer addresses.
	Src, Dst seq.Address

	// SrcName and DstName are the resolved client names the patterns were
	// matched against.
	SrcName, DstName string

	// Allow and Deny are the strongest matches from each rule list.
	Allow, Deny Strength

	// Min is the minimum allow strength the caller required.
	Min Strength

	// Permitted is the verdict: the allow match reached Min and strictly
	// beat the disallow match.
	Permitted bool
}

// Set holds the allow and disallow rules and the name resolver they are
// evaluated against. Rules are added during startup; a Set is not safe
// for concurrent mutation, but evaluation of a fully built Set is.
type Set struct {
	names  seq.NameResolver
	logger *slog.Logger

	allow    []Rule
	disallow []Rule
}

// NewSet creates an empty rule set resolving names through names.
func NewSet(names seq.NameResolver) *Set {
	return &Set{names: names}
}

// SetLogger sets the logger for rule registration and parse warnings.
// A nil logger disables logging.
func (s *Set) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Add inserts a rule into the list selected by kind. Patterns must be
// non-empty, and a wildcard must be the entire pattern; otherwise the
// rule is dropped and ErrInvalidPattern returned.
func (s *Set) Add(kind Kind, output, input string) error {
	if !validPattern(output) || !validPattern(input) {
		return ErrInvalidPattern
	}
	r := Rule{Output: output, Input: input}
	switch kind {
	case Allow:
		s.allow = append(s.allow, r)
		s.infoLog("allowing rule", "output", output, "input", input)
	case Disallow:
		s.disallow = append(s.disallow, r)
		s.infoLog("disallowing rule", "output", output, "input", input)
	}
	return nil
}

// AllowDefault installs the allow-everything rule. It is the effective
// policy when no rule file exists.
func (s *Set) AllowDefault() {
	_ = s.Add(Allow, Wildcard, Wildcard)
}

// HasRules returns true if either rule list is non-empty.
func (s *Set) HasRules() bool {
	return len(s.allow) > 0 || len(s.disallow) > 0
}

// Rules returns a copy of the rule list selected by kind.
func (s *Set) Rules(kind Kind) []Rule {
	var src []Rule
	switch kind {
	case Allow:
		src = s.allow
	case Disallow:
		src = s.disallow
	}
	out := make([]Rule, len(src))
	copy(out, src)
	return out
}

// Decide evaluates a candidate link from src to dst against both rule
// lists, requiring an allow match of at least min.
func (s *Set) Decide(src, dst seq.Address, min Strength) Decision {
	d := Decision{
		Src:     src,
		Dst:     dst,
		SrcName: s.names.ClientName(src.Client),
		DstName: s.names.ClientName(dst.Client),
		Min:     min,
	}
	d.Allow = evaluate(s.allow, d.SrcName, d.DstName)
	d.Deny = evaluate(s.disallow, d.SrcName, d.DstName)
	d.Permitted = d.Allow >= min && d.Allow > d.Deny
	return d
}

// Allowed reports whether a link from src to dst is permitted at the
// given minimum strength.
func (s *Set) Allowed(src, dst seq.Address, min Strength) bool {
	return s.Decide(src, dst, min).Permitted
}

// evaluate returns the maximum strength with which any rule in the list
// matches the name pair, or StrengthNone for an empty list.
func evaluate(rules []Rule, outName, inName string) Strength {
	best := StrengthNone
	for _, r := range rules {
		if st := r.match(outName, inName); st > best {
			best = st
		}
	}
	return best
}

// validPattern accepts a bare wildcard or any non-empty pattern without
// an embedded wildcard.
func validPattern(p string) bool {
	if p == "" {
		return false
	}
	if strings.Contains(p, Wildcard) {
		return p == Wildcard
	}
	return true
}

func (s *Set) infoLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Set) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
