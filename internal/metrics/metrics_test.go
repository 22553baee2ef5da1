package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/quantdb/internal/gapresolver"
)

func TestRecordUpstreamCall_TracksCountAndErrors(t *testing.T) {
	m := New(zerolog.Nop())
	m.RecordUpstreamCall(gapresolver.Window{Start: "20240102", End: "20240112"}, 10*time.Millisecond, nil)
	m.RecordUpstreamCall(gapresolver.Window{Start: "20240115", End: "20240116"}, 5*time.Millisecond, errors.New("boom"))

	snap := m.Snapshot()
	assert.EqualValues(t, 2, snap.UpstreamCalls)
	assert.EqualValues(t, 1, snap.UpstreamErrors)
	assert.Equal(t, 15*time.Millisecond, snap.UpstreamLatencyTot)
}

func TestRecordCacheHit_SplitsHitsAndMisses(t *testing.T) {
	m := New(zerolog.Nop())
	m.RecordCacheHit(9)
	m.RecordCacheHit(-2)

	snap := m.Snapshot()
	assert.EqualValues(t, 9, snap.Hits)
	assert.EqualValues(t, 2, snap.Misses)
}

func TestHitRatio_ZeroWhenNothingRecorded(t *testing.T) {
	snap := Snapshot{}
	assert.Equal(t, 0.0, snap.HitRatio())
}

func TestHitRatio_ComputesFraction(t *testing.T) {
	snap := Snapshot{Hits: 9, Misses: 1}
	assert.Equal(t, 0.9, snap.HitRatio())
}

func TestSampleResources_PopulatesSnapshot(t *testing.T) {
	m := New(zerolog.Nop())
	m.SampleResources()

	snap := m.Snapshot()
	assert.False(t, snap.SampledAt.IsZero())
}
