package domain

import "time"

type Dog struct {
	ID               string     `json:"id"`
	OwnerEmail       string     `json:"owner_email"`
	Name             string     `json:"name"`
	TrialCompletedAt *time.Time `json:"trial_completed_at,omitempty"`
}

// TrialEligibility is derived from a dog's trial completion, never stored.
type TrialEligibility struct {
	TrialRequired    bool       `json:"trial_required"`
	TrialCompletedAt *time.Time `json:"trial_completed_at"`
	EligibleFrom     *time.Time `json:"eligible_from"`
	Eligible         bool       `json:"eligible"`
}

// EvaluateTrial applies the one-day cooldown: a dog becomes eligible for daycare
// and boarding at local midnight following its trial day.
func EvaluateTrial(completedAt *time.Time, now time.Time, loc *time.Location) TrialEligibility {
	if loc == nil {
		loc = time.UTC
	}
	if completedAt == nil {
		return TrialEligibility{TrialRequired: true}
	}

	local := completedAt.In(loc)
	y, m, d := local.Date()
	eligibleFrom := time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	completed := *completedAt

	return TrialEligibility{
		TrialRequired:    false,
		TrialCompletedAt: &completed,
		EligibleFrom:     &eligibleFrom,
		Eligible:         !now.Before(eligibleFrom),
	}
}
