package netstats

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoLossYieldsExcellentQuality(t *testing.T) {
	s := NewStream()
	base := time.Now()
	for i := uint32(0); i < 50; i++ {
		now := base.Add(time.Duration(i) * nominalInterval)
		s.RecordArrival(i, i, now)
	}
	snap := s.Snapshot()
	assert.Equal(t, 0, snap.Lost)
	assert.Equal(t, 50, snap.Received)
	assert.Equal(t, QualityExcellent, snap.Quality)
}

func TestGapsCountAsLoss(t *testing.T) {
	s := NewStream()
	base := time.Now()
	// 100 arrivals, one sequence skipped before every 5th: 0,1,2,3,5,6,7,8,9,11,...
	seq := uint32(0)
	for i := 0; i < 100; i++ {
		if (i+1)%5 == 0 {
			seq++ // skip this one: simulate a loss
		}
		now := base.Add(time.Duration(i) * nominalInterval)
		s.RecordArrival(seq, seq, now)
		seq++
	}
	snap := s.Snapshot()
	assert.Greater(t, snap.Lost, 0)
	assert.Greater(t, snap.LossRatio, 0.0)
}

func TestHighLossYieldsPoorQuality(t *testing.T) {
	s := NewStream()
	base := time.Now()
	seq := uint32(0)
	for i := 0; i < 100; i++ {
		now := base.Add(time.Duration(i) * nominalInterval)
		s.RecordArrival(seq, seq, now)
		seq += 3 // only 1 in 3 frames actually arrives: 2 lost each step
	}
	snap := s.Snapshot()
	assert.Equal(t, QualityPoor, snap.Quality)
	assert.GreaterOrEqual(t, snap.LossRatio, 0.10)
}

func TestOutOfOrderArrivalCounted(t *testing.T) {
	s := NewStream()
	base := time.Now()
	s.RecordArrival(10, 10, base)
	s.RecordArrival(11, 11, base.Add(nominalInterval))
	// This one arrives after the playback cursor has already moved past it.
	s.RecordArrival(9, 11, base.Add(2*nominalInterval))

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.OutOfOrder)
}

func TestRollingWindowEvictsOldSamples(t *testing.T) {
	s := NewStream()
	base := time.Now()
	// Fill the window entirely with clean frames first.
	seq := uint32(0)
	for i := 0; i < windowSize; i++ {
		now := base.Add(time.Duration(i) * nominalInterval)
		s.RecordArrival(seq, seq, now)
		seq++
	}
	require.Equal(t, QualityExcellent, s.Snapshot().Quality)

	// Now push windowSize more frames, all with large gaps, which must
	// fully evict the earlier clean samples.
	for i := 0; i < windowSize; i++ {
		now := base.Add(time.Duration(windowSize+i) * nominalInterval)
		s.RecordArrival(seq, seq, now)
		seq += 10
	}
	snap := s.Snapshot()
	assert.Equal(t, QualityPoor, snap.Quality)
}

func TestRegistryCreatesAndDropsPerSenderStreams(t *testing.T) {
	r := NewRegistry()
	a := uuid.New()
	b := uuid.New()

	sa := r.Stream(a)
	sa2 := r.Stream(a)
	assert.Same(t, sa, sa2, "same sender must reuse its stream")

	sb := r.Stream(b)
	assert.NotSame(t, sa, sb)

	r.Drop(a)
	sa3 := r.Stream(a)
	assert.NotSame(t, sa, sa3, "dropped sender gets a fresh stream")
}

func TestClassifyBoundaries(t *testing.T) {
	assert.Equal(t, QualityExcellent, classify(0))
	assert.Equal(t, QualityExcellent, classify(0.0099))
	assert.Equal(t, QualityGood, classify(0.01))
	assert.Equal(t, QualityGood, classify(0.0299))
	assert.Equal(t, QualityFair, classify(0.03))
	assert.Equal(t, QualityFair, classify(0.0999))
	assert.Equal(t, QualityPoor, classify(0.10))
	assert.Equal(t, QualityPoor, classify(1.0))
}
