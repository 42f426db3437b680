// Package guardrails evaluates the safety rules that can block or modify
// trading actions: confidence floors, trade-frequency caps, market-hours
// timing, and holiday windows. Everything here is a pure function over
// values the control loop already holds.
package guardrails

import (
	"fmt"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/types"
)

// ConfidenceAllowed reports whether a candidate grade passes the configured
// minimum. GradeA is the strictest; a candidate passes when its grade is at
// or above the minimum on the A < B < C < D < F ordering. Unknown grades
// never pass.
func ConfidenceAllowed(grade, minGrade types.Grade) bool {
	if grade == types.GradeUnknown || minGrade == types.GradeUnknown {
		return false
	}
	return grade <= minGrade
}

// Caps holds the trade-frequency counters reconstructed from the journal.
type Caps struct {
	Day  int
	Week int
}

// Decision is the outcome of an entry guardrail check.
type Decision struct {
	Allowed bool
	Reason  string
}

// EvaluateCaps decides whether new entries are allowed under the configured
// daily and weekly caps. A limit of zero or below disables that cap.
func EvaluateCaps(caps Caps, maxPerDay, maxPerWeek int) Decision {
	if maxPerWeek > 0 && caps.Week >= maxPerWeek {
		return Decision{Reason: fmt.Sprintf("weekly entry cap reached (%d/%d)", caps.Week, maxPerWeek)}
	}
	if maxPerDay > 0 && caps.Day >= maxPerDay {
		return Decision{Reason: fmt.Sprintf("daily entry cap reached (%d/%d)", caps.Day, maxPerDay)}
	}
	return Decision{Allowed: true}
}
