package logging

import "strings"

// ProgressSampler suppresses repetitive progress logs while keeping a line
// whenever the stage changes or the fraction crosses a bucket boundary.
type ProgressSampler struct {
	bucket     float64
	lastStage  string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// fraction units (0.1 logs every 10%). Non-positive widths default to 0.1.
func NewProgressSampler(bucket float64) *ProgressSampler {
	if bucket <= 0 || bucket > 1 {
		bucket = 0.1
	}
	return &ProgressSampler{bucket: bucket, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. A negative
// fraction means unknown progress and only stage changes are reported.
func (s *ProgressSampler) ShouldLog(stage string, fraction float64) bool {
	if s == nil {
		return true
	}
	stage = strings.TrimSpace(stage)
	emit := false
	if stage != "" && stage != s.lastStage {
		s.lastStage = stage
		s.lastBucket = -1
		emit = true
	}
	if fraction >= 0 {
		if fraction > 1 {
			fraction = 1
		}
		bucket := int(fraction/s.bucket + 1e-9)
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state when a new attempt starts.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastStage = ""
	s.lastBucket = -1
}
