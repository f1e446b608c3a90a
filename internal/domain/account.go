package domain

import "time"

// Plan is a subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanBasic   Plan = "basic"
	PlanPremium Plan = "premium"
)

const (
	freePeriod = 24 * time.Hour
	paidPeriod = 30 * 24 * time.Hour
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPremium:
		return true
	default:
		return false
	}
}

// Purchasable reports whether a ticket may be requested for p.
func (p Plan) Purchasable() bool {
	return p == PlanBasic || p == PlanPremium
}

// QuotaLimit returns the number of downloads allowed per period.
func (p Plan) QuotaLimit() int {
	switch p {
	case PlanBasic:
		return 100
	case PlanPremium:
		return 1000
	default:
		return 5
	}
}

// Period returns the length of a quota period on p.
func (p Plan) Period() time.Duration {
	if p.Purchasable() {
		return paidPeriod
	}
	return freePeriod
}

// ReferralReward returns the discount points a referrer earns when a referred account activates p.
func (p Plan) ReferralReward() int {
	switch p {
	case PlanBasic:
		return 10
	case PlanPremium:
		return 15
	default:
		return 0
	}
}

// PromoStage identifies one reminder of the new-account discount window.
type PromoStage string

const (
	PromoStageFiveHours     PromoStage = "5h"
	PromoStageOneHour       PromoStage = "1h"
	PromoStageThirtyMinutes PromoStage = "30m"
	PromoStageTenMinutes    PromoStage = "10m"
	PromoStageExpired       PromoStage = "expired"
)

// PromoStages lists every stage, earliest first.
var PromoStages = []PromoStage{
	PromoStageFiveHours,
	PromoStageOneHour,
	PromoStageThirtyMinutes,
	PromoStageTenMinutes,
	PromoStageExpired,
}

// PromoFlags records which reminders were already delivered. Each flag is set at most once.
type PromoFlags struct {
	FiveHours     bool
	OneHour       bool
	ThirtyMinutes bool
	TenMinutes    bool
	Expired       bool
}

// Has reports whether the flag for stage is set.
func (f PromoFlags) Has(stage PromoStage) bool {
	switch stage {
	case PromoStageFiveHours:
		return f.FiveHours
	case PromoStageOneHour:
		return f.OneHour
	case PromoStageThirtyMinutes:
		return f.ThirtyMinutes
	case PromoStageTenMinutes:
		return f.TenMinutes
	case PromoStageExpired:
		return f.Expired
	default:
		return false
	}
}

// Set marks stage as delivered.
func (f *PromoFlags) Set(stage PromoStage) {
	switch stage {
	case PromoStageFiveHours:
		f.FiveHours = true
	case PromoStageOneHour:
		f.OneHour = true
	case PromoStageThirtyMinutes:
		f.ThirtyMinutes = true
	case PromoStageTenMinutes:
		f.TenMinutes = true
	case PromoStageExpired:
		f.Expired = true
	}
}

// Account is a bot user together with plan, quota and referral state.
type Account struct {
	ID                 int64
	Username           string
	FirstName          string
	Plan               Plan
	QuotaUsed          int
	PeriodResetAt      time.Time
	ReferralCode       string
	ReferrerID         *int64
	PromoWindowEnd     *time.Time
	PromoNotified      PromoFlags
	DiscountNextPeriod int
	CreatedAt          time.Time
}

// PromoActive reports whether the new-account discount applies at now.
func (a *Account) PromoActive(now time.Time) bool {
	return a != nil && a.PromoWindowEnd != nil && now.Before(*a.PromoWindowEnd)
}

// PeriodDue reports whether the quota period has elapsed at now.
func (a *Account) PeriodDue(now time.Time) bool {
	return a != nil && !now.Before(a.PeriodResetAt)
}

// RemainingQuota returns downloads left in the current period.
func (a *Account) RemainingQuota() int {
	if a == nil {
		return 0
	}
	left := a.Plan.QuotaLimit() - a.QuotaUsed
	if left < 0 {
		return 0
	}
	return left
}
