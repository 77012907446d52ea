package cycle

import "testing"

func TestStatsRecordTracksMinMax(t *testing.T) {
	s := &Stats{}
	s.Record(100, false)
	s.Record(50, false)
	s.Record(200, false)
	if s.MinCycleNs != 50 || s.MaxCycleNs != 200 || s.LastCycleNs != 200 {
		t.Errorf("min=%d max=%d last=%d, want 50/200/200", s.MinCycleNs, s.MaxCycleNs, s.LastCycleNs)
	}
	if s.CycleCount != 3 {
		t.Errorf("CycleCount = %d, want 3", s.CycleCount)
	}
}

func TestStatsRecordTracksOverruns(t *testing.T) {
	s := &Stats{}
	s.Record(1000, false)
	s.Record(5000, true)
	s.Record(2000, true)
	if s.Overruns != 2 {
		t.Errorf("Overruns = %d, want 2", s.Overruns)
	}
	if s.MaxLatencyNs != 5000 {
		t.Errorf("MaxLatencyNs = %d, want 5000 (max among overrunning cycles only)", s.MaxLatencyNs)
	}
}

func TestStatsAvgCycleNs(t *testing.T) {
	s := &Stats{}
	if s.AvgCycleNs() != 0 {
		t.Error("AvgCycleNs on an empty Stats must be 0")
	}
	s.Record(100, false)
	s.Record(300, false)
	if got := s.AvgCycleNs(); got != 200 {
		t.Errorf("AvgCycleNs = %v, want 200", got)
	}
}

func TestStatsStdDevCycleNs(t *testing.T) {
	s := &Stats{}
	if s.StdDevCycleNs() != 0 {
		t.Error("StdDevCycleNs on an empty Stats must be 0")
	}
	s.Record(100, false)
	s.Record(100, false)
	if got := s.StdDevCycleNs(); got != 0 {
		t.Errorf("identical samples should have zero stddev, got %v", got)
	}
	s2 := &Stats{}
	s2.Record(0, false)
	s2.Record(10, false)
	// population stddev of {0,10}: mean=5, variance=25, stddev=5
	if got := s2.StdDevCycleNs(); got != 5 {
		t.Errorf("StdDevCycleNs({0,10}) = %v, want 5", got)
	}
}
