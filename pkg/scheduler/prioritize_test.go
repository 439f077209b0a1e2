package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/onchainops/liquidator/pkg/domain"
)

func a(s string) domain.Address { return domain.ParseAddress("0x" + s) }

func cfgFor(headCap, maint, pageSize int, threshold float64, bandBps int64) Config {
	return Config{
		HeadCriticalBatchSize: headCap,
		MaintenanceSampleSize: maint,
		HeadCheckPageSize:     pageSize,
		ExecutionThreshold:    threshold,
		NearBandBps:           bandBps,
	}
}

func TestBuildHeadPassPlanOrdersHotsetFirst(t *testing.T) {
	cfg := cfgFor(300, 2, 5, 1.0, 200)
	hotset := []HotUser{{a("0000000000000000000000000000000000000001"), 0.9}, {a("0000000000000000000000000000000000000002"), 0.95}}
	cold := []domain.Address{a("0000000000000000000000000000000000000010"), a("0000000000000000000000000000000000000011")}
	plan := BuildHeadPassPlan(cfg, hotset, cold, nil, newRotator())

	require := plan.Users
	assert.Equal(t, hotset[0].Address, require[0])
	assert.Equal(t, hotset[1].Address, require[1])
}

func TestBuildHeadPassPlanCapsHeadStartSlice(t *testing.T) {
	cfg := cfgFor(1, 0, 0, 1.0, 200) // cap hotstart at 1
	hotset := []HotUser{{a("0000000000000000000000000000000000000001"), 0.5}, {a("0000000000000000000000000000000000000002"), 0.6}}
	plan := BuildHeadPassPlan(cfg, hotset, nil, nil, newRotator())
	assert.Equal(t, []domain.Address{hotset[0].Address, hotset[1].Address}, plan.Users) // both present, just ordered head-start-then-remaining
}

func TestBuildHeadPassPlanMicroVerifyBand(t *testing.T) {
	cfg := cfgFor(300, 0, 0, 1.0, 200) // band = 0.02
	inBand := HotUser{a("0000000000000000000000000000000000000001"), 1.01}
	outOfBand := HotUser{a("0000000000000000000000000000000000000002"), 0.5}
	plan := BuildHeadPassPlan(cfg, []HotUser{inBand, outOfBand}, nil, nil, newRotator())
	assert.Equal(t, []domain.Address{inBand.Address}, plan.MicroVerify)
}

func TestBuildHeadPassPlanDedupesDirtyAgainstHotset(t *testing.T) {
	cfg := cfgFor(300, 0, 0, 1.0, 200)
	shared := a("0000000000000000000000000000000000000001")
	hotset := []HotUser{{shared, 0.5}}
	dirty := []domain.Address{shared, a("0000000000000000000000000000000000000099")}
	plan := BuildHeadPassPlan(cfg, hotset, nil, dirty, newRotator())
	assert.Equal(t, []domain.Address{shared, a("0000000000000000000000000000000000000099")}, plan.Users)
}

func TestBuildHeadPassPlanMaintenanceRotatesAcrossCalls(t *testing.T) {
	cfg := cfgFor(300, 2, 0, 1.0, 200)
	cold := []domain.Address{a("01"), a("02"), a("03"), a("04")}
	rot := newRotator()
	hotset := []HotUser{{a("ff"), 0.1}}

	plan1 := BuildHeadPassPlan(cfg, hotset, cold, nil, rot)
	plan2 := BuildHeadPassPlan(cfg, hotset, cold, nil, rot)

	// Maintenance pages should differ between the two calls (rotation
	// advances the offset).
	maint1 := plan1.Users[len(plan1.Users)-2:]
	maint2 := plan2.Users[len(plan2.Users)-2:]
	assert.NotEqual(t, maint1, maint2)
}

func TestBuildHeadPassPlanUsesPageSizeWhenNoHotset(t *testing.T) {
	cfg := cfgFor(300, 120, 3, 1.0, 200)
	cold := []domain.Address{a("01"), a("02"), a("03"), a("04"), a("05")}
	plan := BuildHeadPassPlan(cfg, nil, cold, nil, newRotator())
	assert.Len(t, plan.Users, 3)
}

func TestRotatorWrapsAround(t *testing.T) {
	r := newRotator()
	universe := []domain.Address{a("01"), a("02"), a("03")}
	first := r.Next(universe, 2)
	second := r.Next(universe, 2)
	assert.Equal(t, []domain.Address{universe[0], universe[1]}, first)
	assert.Equal(t, []domain.Address{universe[2], universe[0]}, second)
}
