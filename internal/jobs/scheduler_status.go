package jobs

// StatusInfo is a point-in-time view of the scheduler.
type StatusInfo struct {
	Workers  int `json:"workers"`
	Queued   int `json:"queued"`
	Running  int `json:"running"`
	Capacity int `json:"capacity"`
}

// Status reports worker count, queue depth and running jobs.
func (s *Scheduler) Status() StatusInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	running := 0
	for _, st := range s.states {
		if st == StateRunning {
			running++
		}
	}
	return StatusInfo{
		Workers:  s.workers,
		Queued:   len(s.queue),
		Running:  running,
		Capacity: cap(s.queue),
	}
}
