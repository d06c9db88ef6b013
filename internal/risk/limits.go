package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ComplianceRules is the approximate jurisdiction/venue rule set enforced by
// the compliance gate. Exact legal treatment is out of scope; these are
// coarse, externally configured checks.
type ComplianceRules struct {
	SanctionedJurisdictions []string `yaml:"sanctioned_jurisdictions" json:"sanctioned_jurisdictions"`
	SanctionedVenues        []string `yaml:"sanctioned_venues" json:"sanctioned_venues"`
	TravelRuleVenues        []string `yaml:"travel_rule_venues" json:"travel_rule_venues"` // KYC + travel-rule capable
	MinTokenAgeDays         float64  `yaml:"min_token_age_days" json:"min_token_age_days"`
	PDTEquityThreshold      float64  `yaml:"pdt_equity_threshold" json:"pdt_equity_threshold"`
	PDTMaxDayTrades         int      `yaml:"pdt_max_day_trades" json:"pdt_max_day_trades"`
}

// GraduationRules holds the thresholds for mode transitions.
type GraduationRules struct {
	// PAPER -> MICRO
	MinEquity           float64 `yaml:"min_equity" json:"min_equity"`
	MinWalkForwardWeeks float64 `yaml:"min_walk_forward_weeks" json:"min_walk_forward_weeks"`
	MinEVPositiveRate   float64 `yaml:"min_ev_positive_rate" json:"min_ev_positive_rate"`
	MaxCostModelP95Err  float64 `yaml:"max_cost_model_p95_err" json:"max_cost_model_p95_err"`

	// MICRO -> FULL
	MinRealizedPnL       float64 `yaml:"min_realized_pnl" json:"min_realized_pnl"`
	MinStressEV          float64 `yaml:"min_stress_ev" json:"min_stress_ev"`
	MinMatchedWindows    int     `yaml:"min_matched_windows" json:"min_matched_windows"`
	WindowMatchTolerance float64 `yaml:"window_match_tolerance" json:"window_match_tolerance"`
	MinActiveStrategies  int     `yaml:"min_active_strategies" json:"min_active_strategies"`
}

// MonitorRules configures the continuous risk monitor.
type MonitorRules struct {
	WarningLevel   float64 `yaml:"warning_level" json:"warning_level"`     // drawdown fraction
	EmergencyLevel float64 `yaml:"emergency_level" json:"emergency_level"` // drawdown fraction
	PollMs         int     `yaml:"poll_ms" json:"poll_ms"`                 // 500-1000
}

// CanaryRules configures probation sizing.
type CanaryRules struct {
	WindowSize int     `yaml:"window_size" json:"window_size"`
	PassP95    float64 `yaml:"pass_p95" json:"pass_p95"`
}

// Profiles is the full externally supplied risk configuration: one Limits set
// per trading mode plus the shared rule sections. Which thresholds are
// authoritative is a configuration decision, not a code one.
type Profiles struct {
	Paper      Limits          `yaml:"paper" json:"paper"`
	Micro      Limits          `yaml:"micro" json:"micro"`
	Full       Limits          `yaml:"full" json:"full"`
	Compliance ComplianceRules `yaml:"compliance" json:"compliance"`
	Graduation GraduationRules `yaml:"graduation" json:"graduation"`
	Monitor    MonitorRules    `yaml:"monitor" json:"monitor"`
	Canary     CanaryRules     `yaml:"canary" json:"canary"`
}

// For returns the Limits snapshot for a mode. BLOCKED gets the micro profile;
// the trading-mode gate rejects everything in BLOCKED anyway.
func (p Profiles) For(mode TradingMode) Limits {
	switch mode {
	case ModeMicro, ModeBlocked:
		return p.Micro
	case ModeFull:
		return p.Full
	default:
		return p.Paper
	}
}

// DefaultProfiles returns documented defaults. Production deployments are
// expected to override via the YAML profile file.
func DefaultProfiles() Profiles {
	standard := Limits{
		PerTradeVaR:          0.001,  // 0.10% of equity per trade
		MaxDailyLoss:         0.01,   // 1% of equity per day
		RollingDrawdownStop:  0.0125, // 1.25% peak-to-current
		SymbolRiskCap:        0.02,
		VenueRiskCap:         0.05,
		SlippageP95Threshold: 0.02,
		MinEVRatio:           2.0,
	}
	micro := standard
	micro.PerTradeVaR = 0.0002 // 0.02%, also hard-capped at $5 by the mode gate
	micro.MaxDailyLoss = 0.005
	micro.SymbolRiskCap = 0.005
	micro.VenueRiskCap = 0.01

	return Profiles{
		Paper: standard,
		Micro: micro,
		Full:  standard,
		Compliance: ComplianceRules{
			SanctionedJurisdictions: []string{"KP", "IR", "SY", "CU"},
			SanctionedVenues:        []string{},
			TravelRuleVenues:        []string{},
			MinTokenAgeDays:         30,
			PDTEquityThreshold:      25_000,
			PDTMaxDayTrades:         3,
		},
		Graduation: GraduationRules{
			MinEquity:            10_000,
			MinWalkForwardWeeks:  6,
			MinEVPositiveRate:    0.65,
			MaxCostModelP95Err:   0.10,
			MinRealizedPnL:       1_000,
			MinStressEV:          0.55,
			MinMatchedWindows:    2,
			WindowMatchTolerance: 0.02,
			MinActiveStrategies:  4,
		},
		Monitor: MonitorRules{
			WarningLevel:   0.012,
			EmergencyLevel: 0.0125,
			PollMs:         500,
		},
		Canary: CanaryRules{
			WindowSize: 200,
			PassP95:    0.02,
		},
	}
}

// LoadProfiles reads the YAML profile file at path, applying defaults for any
// omitted field. An empty path returns the defaults.
func LoadProfiles(path string) (Profiles, error) {
	p := DefaultProfiles()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read risk profiles: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse risk profiles: %w", err)
	}
	if err := p.validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (p Profiles) validate() error {
	for _, l := range []struct {
		name   string
		limits Limits
	}{{"paper", p.Paper}, {"micro", p.Micro}, {"full", p.Full}} {
		if l.limits.PerTradeVaR <= 0 || l.limits.MaxDailyLoss <= 0 || l.limits.RollingDrawdownStop <= 0 {
			return fmt.Errorf("risk profile %q: limits must be positive", l.name)
		}
		if l.limits.MinEVRatio < 1 {
			return fmt.Errorf("risk profile %q: min_ev_ratio must be >= 1", l.name)
		}
	}
	if p.Monitor.EmergencyLevel <= p.Monitor.WarningLevel {
		return fmt.Errorf("monitor: emergency_level must exceed warning_level")
	}
	if p.Monitor.PollMs < 500 || p.Monitor.PollMs > 1000 {
		return fmt.Errorf("monitor: poll_ms must be within 500-1000")
	}
	return nil
}
