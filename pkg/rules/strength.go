package rules

import "errors"

// Strength errors.
var (
	ErrUnknownStrength = errors.New("unknown strength name")
)

// Strength grades how precisely a rule matches a name pair. Higher values
// order after lower ones.
type Strength uint8

const (
	// StrengthNone - the rule does not match the pair.
	StrengthNone Strength = iota

	// StrengthVeryVague - both patterns are wildcards.
	StrengthVeryVague

	// StrengthVague - one concrete substring match, one wildcard.
	StrengthVague

	// StrengthSpecific - concrete substring matches on both sides.
	StrengthSpecific
)

// String returns the strength name.
func (s Strength) String() string {
	switch s {
	case StrengthNone:
		return "none"
	case StrengthVeryVague:
		return "very-vague"
	case StrengthVague:
		return "vague"
	case StrengthSpecific:
		return "specific"
	default:
		return "unknown"
	}
}

// ParseStrength parses a strength name as produced by String.
func ParseStrength(name string) (Strength, error) {
	switch name {
	case "none":
		return StrengthNone, nil
	case "very-vague":
		return StrengthVeryVague, nil
	case "vague":
		return StrengthVague, nil
	case "specific":
		return StrengthSpecific, nil
	default:
		return StrengthNone, ErrUnknownStrength
	}
}
