package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stride/internal/model"
)

func TestResolveFree(t *testing.T) {
	e := Resolve(model.PlanFree)

	assert.Equal(t, model.PlanFree, e.Plan)
	assert.Equal(t, 5, e.Quota(model.KindHabit))
	assert.Equal(t, 20, e.Quota(model.KindTask))
	assert.True(t, e.Has(FeatureHabitTracking))
	assert.True(t, e.Has(FeatureDataExport))
	assert.False(t, e.Has(FeaturePushNotifications))
	assert.False(t, e.Has(FeatureCloudBackup))
}

func TestResolveUnknownFailsClosed(t *testing.T) {
	for _, plan := range []model.Plan{"", "enterprise", "PRO"} {
		e := Resolve(plan)
		assert.Equal(t, model.PlanFree, e.Plan, "plan %q", plan)
		assert.Equal(t, Resolve(model.PlanFree), e, "plan %q", plan)
	}
}

func TestResolveTiersAreNested(t *testing.T) {
	free := Resolve(model.PlanFree)
	premium := Resolve(model.PlanPremium)
	pro := Resolve(model.PlanPro)

	for _, f := range free.Features {
		assert.True(t, premium.Has(f), "premium missing %s", f)
	}
	for _, f := range premium.Features {
		assert.True(t, pro.Has(f), "pro missing %s", f)
	}
	assert.True(t, premium.Has(FeaturePushNotifications))
	assert.False(t, premium.Has(FeatureCalendarSync))
	assert.True(t, pro.Has(FeatureCalendarSync))
	assert.True(t, pro.Has(FeatureCloudBackup))
}

func TestAllows(t *testing.T) {
	free := Resolve(model.PlanFree)
	assert.True(t, free.Allows(model.KindHabit, 4))
	assert.False(t, free.Allows(model.KindHabit, 5))
	assert.False(t, free.Allows(model.KindHabit, 6))

	pro := Resolve(model.PlanPro)
	assert.Equal(t, Unlimited, pro.Quota(model.KindTask))
	assert.True(t, pro.Allows(model.KindTask, 1_000_000))

	assert.False(t, free.Allows(model.Kind("journal"), 0))
}

func TestResolveReturnsIndependentCopies(t *testing.T) {
	a := Resolve(model.PlanPremium)
	require.NotEmpty(t, a.Features)
	a.Features[0] = "mutated"

	b := Resolve(model.PlanPremium)
	assert.Equal(t, FeatureHabitTracking, b.Features[0])
}
