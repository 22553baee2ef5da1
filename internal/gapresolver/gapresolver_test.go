package gapresolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve_EmptyWhenFullyCoveredAndNotHot(t *testing.T) {
	days := []string{"20240102", "20240103", "20240104"}
	stored := map[string]struct{}{"20240102": {}, "20240103": {}, "20240104": {}}
	plan := Resolve(days, stored, "20240105", false)
	assert.Empty(t, plan)
}

func TestResolve_SingleMissingRun(t *testing.T) {
	days := []string{"20240102", "20240103", "20240104", "20240105"}
	stored := map[string]struct{}{"20240102": {}, "20240105": {}}
	plan := Resolve(days, stored, "20240110", false)
	assert.Equal(t, Plan{{Start: "20240103", End: "20240104"}}, plan)
}

func TestResolve_MultipleContiguousRuns(t *testing.T) {
	days := []string{"20240102", "20240103", "20240104", "20240105", "20240108"}
	stored := map[string]struct{}{"20240103": {}, "20240108": {}}
	plan := Resolve(days, stored, "20240110", false)
	assert.Equal(t, Plan{
		{Start: "20240102", End: "20240102"},
		{Start: "20240104", End: "20240105"},
	}, plan)
}

func TestResolve_LastRunMarkedHotWhenTouchingToday(t *testing.T) {
	days := []string{"20240108", "20240109", "20240110"}
	stored := map[string]struct{}{"20240108": {}}
	plan := Resolve(days, stored, "20240110", true)
	last := plan[len(plan)-1]
	assert.True(t, last.Hot)
	assert.Equal(t, "20240110", last.End)
}

func TestResolve_NotHotWhenMarketClosed(t *testing.T) {
	days := []string{"20240108", "20240109", "20240110"}
	stored := map[string]struct{}{}
	plan := Resolve(days, stored, "20240110", false)
	for _, w := range plan {
		assert.False(t, w.Hot)
	}
}

func TestResolve_HotRunEmittedEvenWhenTodayAlreadyStored(t *testing.T) {
	days := []string{"20240108", "20240109", "20240110"}
	stored := map[string]struct{}{"20240108": {}, "20240109": {}, "20240110": {}}
	plan := Resolve(days, stored, "20240110", true)
	assert.Len(t, plan, 1)
	assert.True(t, plan[0].Hot)
	assert.Equal(t, "20240110", plan[0].End)
}

func TestResolve_HotRunExpandedByAtMostOneTradingDayEachSide(t *testing.T) {
	days := []string{"20240108", "20240109", "20240110"}
	stored := map[string]struct{}{"20240108": {}, "20240109": {}}
	plan := Resolve(days, stored, "20240110", true)
	assert.Len(t, plan, 1)
	assert.True(t, plan[0].Hot)
	assert.Equal(t, "20240109", plan[0].Start)
	assert.Equal(t, "20240110", plan[0].End)
}
