package gate

import (
	"fmt"
	"strings"
)

// complianceGate runs the approximate jurisdiction/venue/asset rules. Checks
// run in order; the first failing rule names itself.
func complianceGate(in Input) Outcome {
	c := in.Candidate
	r := in.Rules

	if containsFold(r.SanctionedJurisdictions, c.Jurisdiction) {
		return fail("sanctioned jurisdiction %s", c.Jurisdiction)
	}
	if containsFold(r.SanctionedVenues, c.Venue) {
		return fail("sanctioned venue %s", c.Venue)
	}

	// Orders must route through a KYC'd, travel-rule-capable venue when the
	// allow-list is configured.
	if len(r.TravelRuleVenues) > 0 && !containsFold(r.TravelRuleVenues, c.Venue) {
		return fail("venue %s is not travel-rule capable", c.Venue)
	}

	if c.TravelRule.Originator == "" || c.TravelRule.Beneficiary == "" {
		return fail("travel-rule data missing")
	}

	if r.MinTokenAgeDays > 0 && c.TokenAgeDays < r.MinTokenAgeDays {
		return fail("token age %.0fd below minimum %.0fd", c.TokenAgeDays, r.MinTokenAgeDays)
	}

	// Pattern-day-trader throttle for small accounts.
	if r.PDTEquityThreshold > 0 && in.State.Equity < r.PDTEquityThreshold &&
		in.State.DayTrades >= r.PDTMaxDayTrades {
		return fail("PDT throttle: equity %.2f below %.2f with %d day trades",
			in.State.Equity, r.PDTEquityThreshold, in.State.DayTrades)
	}

	return Outcome{Gate: KindCompliance, Pass: true}
}

func fail(format string, args ...any) Outcome {
	return Outcome{
		Gate:   KindCompliance,
		Pass:   false,
		Reason: "compliance gate: " + fmt.Sprintf(format, args...),
	}
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
