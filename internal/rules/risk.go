package rules

import (
	"time"

	"github.com/opensource-finance/keeper/internal/domain"
)

// Risk levels of a single audit action.
const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
)

var actionRisk = map[string]string{
	domain.ActionLoginFailed:           RiskHigh,
	domain.ActionAccountLocked:         RiskHigh,
	domain.ActionSuspiciousActivity:    RiskHigh,
	domain.ActionUnauthorizedAccess:    RiskHigh,
	domain.ActionRoleChanged:           RiskMedium,
	domain.ActionPermissionDenied:      RiskMedium,
	domain.ActionSensitiveDataAccessed: RiskMedium,
	domain.ActionLoginSuccess:          RiskLow,
	domain.ActionLogout:                RiskLow,
	domain.ActionPasswordChanged:       RiskLow,
}

// RiskLevelOf classifies an audit action. Unrecognised actions are medium.
func RiskLevelOf(action string) string {
	if level, ok := actionRisk[action]; ok {
		return level
	}
	return RiskMedium
}

// SeverityOf maps an action's risk level onto an event severity.
func SeverityOf(action string) domain.Severity {
	switch RiskLevelOf(action) {
	case RiskHigh:
		return domain.SeverityHigh
	case RiskLow:
		return domain.SeverityLow
	default:
		return domain.SeverityMedium
	}
}

// Thresholds tunes the monitoring heuristics.
type Thresholds struct {
	// Failed logins per (user, ip) group
	FailedLoginsHigh     int
	FailedLoginsCritical int

	// Consecutive actions closer together than RapidGap
	RapidGap   time.Duration
	RapidPairs int

	// Distinct resource types touched within BreadthWindow
	BreadthWindow        time.Duration
	BreadthResourceTypes int

	// Business hours are [BusinessHoursStart, BusinessHoursEnd) local time.
	BusinessHoursStart int
	BusinessHoursEnd   int
	OffHoursActions    int

	// Weighted per-user risk score
	UserRiskScoring   bool
	HighRiskWeight    int
	MediumRiskWeight  int
	LowRiskWeight     int
	RiskScoreHigh     int
	RiskScoreCritical int

	// Events newer than this count as recent.
	RecentWindow time.Duration
}

func baseThresholds() Thresholds {
	return Thresholds{
		FailedLoginsHigh:     5,
		FailedLoginsCritical: 20,
		RapidGap:             time.Second,
		RapidPairs:           10,
		BreadthWindow:        5 * time.Minute,
		BreadthResourceTypes: 5,
		OffHoursActions:      10,
		HighRiskWeight:       10,
		MediumRiskWeight:     5,
		LowRiskWeight:        1,
		RiskScoreHigh:        50,
		RiskScoreCritical:    100,
		RecentWindow:         24 * time.Hour,
	}
}

// ActivityThresholds are used by the activity monitor. Business hours are
// 09:00-18:00 and every action type is in scope, so per-user risk scoring
// is off.
func ActivityThresholds() Thresholds {
	th := baseThresholds()
	th.BusinessHoursStart = 9
	th.BusinessHoursEnd = 18
	return th
}

// SecurityThresholds are used by the security monitor, which watches the
// security event set with a wider 06:00-22:00 business day.
func SecurityThresholds() Thresholds {
	th := baseThresholds()
	th.BusinessHoursStart = 6
	th.BusinessHoursEnd = 22
	th.UserRiskScoring = true
	return th
}

// Weight returns the risk score contribution of one action.
func (th Thresholds) Weight(action string) int {
	switch RiskLevelOf(action) {
	case RiskHigh:
		return th.HighRiskWeight
	case RiskLow:
		return th.LowRiskWeight
	default:
		return th.MediumRiskWeight
	}
}

// OffHours reports whether t falls outside business hours in loc.
func (th Thresholds) OffHours(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	return h < th.BusinessHoursStart || h >= th.BusinessHoursEnd
}
