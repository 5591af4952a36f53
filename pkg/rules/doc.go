// Package rules implements the patching policy engine.
//
// A Set holds allow and disallow rules. Each rule is a pair of patterns
// matched against the producer-side and consumer-side client names of a
// candidate link. A pattern is either the literal wildcard "*" or a
// substring; substring matching lets one pattern cover every instance of
// a product line sharing a name fragment.
//
// # Match strength
//
// Every rule matches a name pair with a Strength:
//
//	StrengthVeryVague  both sides wildcard
//	StrengthVague      one side a concrete substring match, one wildcard
//	StrengthSpecific   both sides concrete substring matches
//	StrengthNone       the rule does not match
//
// A Set's verdict for a pair takes the maximum strength over each rule
// list. The pair is permitted when the allow strength reaches the
// caller's minimum and strictly exceeds the disallow strength; an equally
// strong disallow rule wins.
//
// # Rule files
//
// Parse reads the line-oriented rule file format: "[allow]" and
// "[disallow]" section headers, rule lines "LEFT -> RIGHT" (LEFT
// produces, RIGHT consumes), "LEFT <- RIGHT" (reversed), and
// "LEFT <-> RIGHT" (both directions). "#" starts a trailing comment.
// Malformed lines are logged and skipped; they never abort parsing.
//
// Name resolution is injected through seq.NameResolver, so the engine is
// testable against synthetic name tables.
package rules
