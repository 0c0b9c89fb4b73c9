package entitlement

import (
	"slices"

	"github.com/dukerupert/stride/internal/model"
)

// Feature identifies a plan-gated capability.
type Feature string

const (
	FeatureHabitTracking     Feature = "habit_tracking"
	FeatureTaskManagement    Feature = "task_management"
	FeatureDataExport        Feature = "data_export"
	FeaturePushNotifications Feature = "push_notifications"
	FeatureAdvancedAnalytics Feature = "advanced_analytics"
	FeatureChallenges        Feature = "challenges"
	FeatureAICoach           Feature = "ai_coach"
	FeatureCalendarSync      Feature = "calendar_sync"
	FeatureCloudBackup       Feature = "cloud_backup"
)

// Unlimited is the quota value for tiers without a cap.
const Unlimited = -1

// Quotas caps the number of active items per kind.
type Quotas struct {
	Habits int `json:"habits"`
	Tasks  int `json:"tasks"`
}

// Entitlements is what a plan grants.
type Entitlements struct {
	Plan     model.Plan `json:"plan"`
	Features []Feature  `json:"features"`
	Quotas   Quotas     `json:"quotas"`
}

var (
	freeFeatures = []Feature{
		FeatureHabitTracking,
		FeatureTaskManagement,
		FeatureDataExport,
	}
	premiumFeatures = append(slices.Clone(freeFeatures),
		FeaturePushNotifications,
		FeatureAdvancedAnalytics,
		FeatureChallenges,
		FeatureAICoach,
	)
	proFeatures = append(slices.Clone(premiumFeatures),
		FeatureCalendarSync,
		FeatureCloudBackup,
	)
)

// Resolve returns the entitlements for plan. Unknown plans resolve to the
// free tier.
func Resolve(plan model.Plan) Entitlements {
	switch plan {
	case model.PlanPro:
		return Entitlements{
			Plan:     model.PlanPro,
			Features: slices.Clone(proFeatures),
			Quotas:   Quotas{Habits: Unlimited, Tasks: Unlimited},
		}
	case model.PlanPremium:
		return Entitlements{
			Plan:     model.PlanPremium,
			Features: slices.Clone(premiumFeatures),
			Quotas:   Quotas{Habits: 50, Tasks: 500},
		}
	default:
		return Entitlements{
			Plan:     model.PlanFree,
			Features: slices.Clone(freeFeatures),
			Quotas:   Quotas{Habits: 5, Tasks: 20},
		}
	}
}

// Has reports whether the feature is granted.
func (e Entitlements) Has(f Feature) bool {
	return slices.Contains(e.Features, f)
}

// Quota returns the active-item cap for kind. Unknown kinds get zero.
func (e Entitlements) Quota(kind model.Kind) int {
	switch kind {
	case model.KindHabit:
		return e.Quotas.Habits
	case model.KindTask:
		return e.Quotas.Tasks
	}
	return 0
}

// Allows reports whether one more active item of kind fits when active items
// already exist.
func (e Entitlements) Allows(kind model.Kind, active int) bool {
	q := e.Quota(kind)
	if q < 0 {
		return true
	}
	return active < q
}

// KindFeature returns the feature required to use kind at all.
func KindFeature(kind model.Kind) Feature {
	if kind == model.KindTask {
		return FeatureTaskManagement
	}
	return FeatureHabitTracking
}
