package guardrails

import (
	"fmt"
	"time"

	"github.com/caspercaimeo-alt/CaimeoV1/internal/broker"
)

// MarketReady reports whether the session currently permits new entries:
// the market must be open and the first minutesAfterOpen of the session must
// have passed. alwaysOpen short-circuits both checks for 24/7 instruments.
// When the venue does not report the last open, the next open stands in; a
// reference in the future keeps entries blocked.
//
// Clock-read failures never reach this function: the control loop fails
// open ("ready, no guard") before calling it.
func MarketReady(clock broker.Clock, now time.Time, minutesAfterOpen int, alwaysOpen bool) (bool, string) {
	if alwaysOpen {
		return true, ""
	}
	if !clock.IsOpen {
		return false, "market closed"
	}
	if minutesAfterOpen > 0 {
		openRef := clock.LastOpen
		if openRef.IsZero() {
			openRef = clock.NextOpen
		}
		if !openRef.IsZero() && now.Sub(openRef) < time.Duration(minutesAfterOpen)*time.Minute {
			return false, fmt.Sprintf("within %dm of market open", minutesAfterOpen)
		}
	}
	return true, ""
}

// GuardConfig holds the holiday-window thresholds.
type GuardConfig struct {
	Enabled          bool
	SkipEntryMinutes int
	TightenMinutes   int
	LongCloseHours   int
}

// GuardState is the holiday guard outcome for one cycle.
type GuardState struct {
	SkipEntries  bool
	TightenExits bool
	Reason       string
}

// HolidayGuard inspects the gap to the next close and the next open.
// Entries are skipped close to a session close or ahead of a long closure
// (weekend, holiday); exits are tightened under the same long-gap condition
// or inside the wider tighten window before the close.
func HolidayGuard(clock broker.Clock, now time.Time, cfg GuardConfig) GuardState {
	if !cfg.Enabled {
		return GuardState{}
	}

	closeSoon := func(minutes int) bool {
		if minutes <= 0 || clock.NextClose.IsZero() {
			return false
		}
		return clock.NextClose.Sub(now) <= time.Duration(minutes)*time.Minute
	}
	longGap := false
	if cfg.LongCloseHours > 0 && !clock.NextOpen.IsZero() {
		longGap = clock.NextOpen.Sub(now) >= time.Duration(cfg.LongCloseHours)*time.Hour
	}

	st := GuardState{
		SkipEntries:  longGap || closeSoon(cfg.SkipEntryMinutes),
		TightenExits: longGap || closeSoon(cfg.TightenMinutes),
	}
	switch {
	case longGap:
		st.Reason = fmt.Sprintf("long closure ahead (next open in %s)", clock.NextOpen.Sub(now).Round(time.Minute))
	case st.SkipEntries || st.TightenExits:
		st.Reason = fmt.Sprintf("market close in %s", clock.NextClose.Sub(now).Round(time.Minute))
	}
	return st
}
