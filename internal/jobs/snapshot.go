package jobs

import "time"

// Snapshot is the read-only view of a scheduled job.
type Snapshot struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	Recipients []string    `json:"recipients"`
	Message    string      `json:"message"`
	Computed   bool        `json:"computed,omitempty"`
	Timezone   string      `json:"timezone"`
	Active     bool        `json:"active"`
	At         *time.Time  `json:"at,omitempty"`
	Expression string      `json:"expression"`
	CreatedAt  time.Time   `json:"created_at"`
	Next       *time.Time  `json:"next,omitempty"`
	Prev       *time.Time  `json:"prev,omitempty"`
	Runs       uint64      `json:"runs"`
	LastRun    *RunSummary `json:"last_run,omitempty"`
}

// RunSummary condenses the latest DispatchReport of a job.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	At         time.Time `json:"at"`
	Delivered  int       `json:"delivered"`
	Failed     int       `json:"failed"`
	ContentErr string    `json:"content_error,omitempty"`
}

// Summary counts jobs by state.
type Summary struct {
	Total  int `json:"total"`
	Active int `json:"active"`
	Paused int `json:"paused"`
}

func summarize(list []Snapshot) Summary {
	var s Summary
	for _, j := range list {
		s.Total++
		if j.Active {
			s.Active++
		} else {
			s.Paused++
		}
	}
	return s
}
