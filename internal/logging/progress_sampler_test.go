package logging

import "testing"

func TestNewProgressSamplerDefaults(t *testing.T) {
	tests := []struct {
		name   string
		bucket float64
		want   float64
	}{
		{"zero", 0, 0.1},
		{"negative", -1, 0.1},
		{"too wide", 2, 0.1},
		{"custom", 0.25, 0.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewProgressSampler(tt.bucket)
			if s.bucket != tt.want {
				t.Fatalf("bucket = %v, want %v", s.bucket, tt.want)
			}
			if s.lastBucket != -1 {
				t.Fatalf("lastBucket = %d, want -1", s.lastBucket)
			}
		})
	}
}

func TestProgressSamplerNilAlwaysLogs(t *testing.T) {
	var s *ProgressSampler
	if !s.ShouldLog("uploading", 0.5) {
		t.Fatal("nil sampler should always log")
	}
	s.Reset()
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(0.25)
	steps := []struct {
		stage    string
		fraction float64
		want     bool
	}{
		{"uploading", 0, true},
		{"uploading", 0.1, false},
		{"uploading", 0.25, true},
		{"uploading", 0.3, false},
		{"uploading", 0.99, true},
		{"uploading", 1.5, true},
		{"uploading", 1, false},
		{"transcribing", -1, true},
		{"transcribing", -1, false},
		{"  transcribing ", 0.1, true},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.stage, step.fraction); got != step.want {
			t.Fatalf("step %d (%s %.2f): got %v, want %v", i, step.stage, step.fraction, got, step.want)
		}
	}
}

func TestProgressSamplerReset(t *testing.T) {
	s := NewProgressSampler(0.5)
	s.ShouldLog("building", 0.6)
	s.Reset()
	if !s.ShouldLog("building", 0.6) {
		t.Fatal("expected log after reset")
	}
}
