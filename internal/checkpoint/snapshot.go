package checkpoint

import "time"

// Snapshot is a read-only view of one source's checkpoints.
type Snapshot struct {
	SourceID     string
	LastRun      time.Time
	HasLastRun   bool
	LastCycle    time.Time
	HasLastCycle bool
	// Buffers is indexed by stage; index 0 is always zero because stage 0 is
	// interval driven.
	Buffers []int
}

// Snapshot reads every checkpoint for sourceID across stageCount stages.
func (s *Store) Snapshot(sourceID string, stageCount int) Snapshot {
	snap := Snapshot{SourceID: sourceID}
	snap.LastRun, snap.HasLastRun = s.LastRun(sourceID)
	snap.LastCycle, snap.HasLastCycle = s.LastCycle(sourceID)
	if stageCount > 0 {
		snap.Buffers = make([]int, stageCount)
		for idx := 1; idx < stageCount; idx++ {
			snap.Buffers[idx], _ = s.Buffer(sourceID, idx)
		}
	}
	return snap
}
