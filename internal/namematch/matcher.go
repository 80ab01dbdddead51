// Package namematch compares a user-entered name against the name the payment
// gateway reports for the payer. The comparison is deliberately biased toward
// false negatives: an ambiguous pair must end up requiring manual confirmation,
// never silently approving a download.
package namematch

import "strings"

// Policy selects which matching rules apply.
type Policy struct {
	// MinFirstToken is the minimum length of a first name before a
	// first-name-only match counts. Guards against "Jo" matching "John".
	MinFirstToken int
	// AllowSubstring additionally accepts one full name being contained in
	// the other, provided both are at least five characters long.
	AllowSubstring bool
}

// StrictPolicy is the default: exact match, or first-token match with the
// minimum length, or the conservative substring rule.
func StrictPolicy(minFirstToken int) Policy {
	return Policy{MinFirstToken: minFirstToken, AllowSubstring: true}
}

// RelaxedPolicy accepts only a first-token match with the minimum length.
func RelaxedPolicy(minFirstToken int) Policy {
	return Policy{MinFirstToken: minFirstToken, AllowSubstring: false}
}

const minSubstringLen = 5

// Matches reports whether entered and reference name the same payer under the
// policy. Both inputs are normalized (lower-cased, inner whitespace collapsed,
// trimmed) before any rule runs.
func Matches(entered, reference string, p Policy) bool {
	entered = normalize(entered)
	reference = normalize(reference)

	if entered == "" || reference == "" {
		return false
	}

	if entered == reference {
		return true
	}

	enteredFirst := firstToken(entered)
	referenceFirst := firstToken(reference)
	if enteredFirst == referenceFirst && len(enteredFirst) >= p.MinFirstToken {
		return true
	}

	if p.AllowSubstring && len(entered) >= minSubstringLen && len(reference) >= minSubstringLen {
		if strings.Contains(entered, reference) || strings.Contains(reference, entered) {
			return true
		}
	}

	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
