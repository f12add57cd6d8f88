package logging

// ProgressSampler suppresses repetitive progress logs while preserving signal
// when the percent crosses a bucket boundary or the progress epoch changes.
type ProgressSampler struct {
	bucketSize float64
	lastEpoch  uint64
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits every bucketSize percent
// (default 10%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress tick should be logged. A new epoch
// (resume from an earlier timeline point) always logs and restarts bucketing.
func (s *ProgressSampler) ShouldLog(percent float64, epoch uint64) bool {
	if s == nil {
		return true
	}
	emit := false
	if epoch != s.lastEpoch {
		s.lastEpoch = epoch
		s.lastBucket = -1
		emit = true
	}
	if percent < 0 {
		return emit
	}
	if percent > 100 {
		percent = 100
	}
	if bucket := int(percent / s.bucketSize); bucket > s.lastBucket {
		s.lastBucket = bucket
		emit = true
	}
	return emit
}
