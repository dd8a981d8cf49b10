// Package prose runs a deterministic scan for overused constructions in
// generated chapter text. The patterns and caps are fixed; exceeding a cap
// triggers a regeneration with the violations as priority fixes.
package prose

import (
	"fmt"
	"regexp"
	"strings"
)

// Caps per chapter. The em dash is tolerated in moderation; the phrase
// patterns read as tics after a couple of uses.
const (
	MaxEmDashes    = 15
	MaxNotButs     = 2
	MaxSomethingIn = 2
	MaxTheKindOf   = 2
)

var (
	// "Not a whisper, but a roar." / "Not a whisper — a roar."
	notButPattern = regexp.MustCompile(`(?i)\bnot\s+[^.!?\n]{0,60}?(?:,\s*but\s+|\s*—\s*)`)

	// "something in her voice", "something in their eyes"
	somethingInPattern = regexp.MustCompile(`(?i)\bsomething in (?:her|his|their|my|your)\b`)

	// "the kind of silence that..."
	theKindOfPattern = regexp.MustCompile(`(?i)\bthe kind of\b`)
)

// Violation records a construction that exceeded its cap.
type Violation struct {
	Construction string
	Count        int
	Limit        int
}

// String renders the violation as a concrete fix instruction.
func (v Violation) String() string {
	return fmt.Sprintf("Reduce use of %s: used %d times (max %d)", v.Construction, v.Count, v.Limit)
}

// Scan checks text against all caps and returns the violations, empty when
// the text is clean.
func Scan(text string) []Violation {
	var violations []Violation

	if n := strings.Count(text, "—"); n > MaxEmDashes {
		violations = append(violations, Violation{
			Construction: `the em dash ("—")`,
			Count:        n,
			Limit:        MaxEmDashes,
		})
	}

	if n := len(notButPattern.FindAllString(text, -1)); n > MaxNotButs {
		violations = append(violations, Violation{
			Construction: `"Not X, but Y" constructions`,
			Count:        n,
			Limit:        MaxNotButs,
		})
	}

	if n := len(somethingInPattern.FindAllString(text, -1)); n > MaxSomethingIn {
		violations = append(violations, Violation{
			Construction: `"something in her/his/their eyes..." constructions`,
			Count:        n,
			Limit:        MaxSomethingIn,
		})
	}

	if n := len(theKindOfPattern.FindAllString(text, -1)); n > MaxTheKindOf {
		violations = append(violations, Violation{
			Construction: `"the kind of" constructions`,
			Count:        n,
			Limit:        MaxTheKindOf,
		})
	}

	return violations
}

// Fixes flattens violations into priority-fix strings for a synthesized
// review.
func Fixes(violations []Violation) []string {
	fixes := make([]string, len(violations))
	for i, v := range violations {
		fixes[i] = v.String()
	}
	return fixes
}
