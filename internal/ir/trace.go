package ir

// RunInfo describes one execution of a program. Instants, dispatches and
// schedules recorded during the run reference it by ID.
type RunInfo struct {
	ID        string  `json:"id"`
	Program   string  `json:"program"`
	StartTime Instant `json:"start_time"`
	StopTime  Instant `json:"stop_time"`
	KeepAlive bool    `json:"keepalive"`
	Fast      bool    `json:"fast"`
	Version   string  `json:"version"`
}

// InstantRecord is one processed tag. Seq is the 0-based instant index
// within the run.
type InstantRecord struct {
	RunID string `json:"run_id"`
	Seq   int64  `json:"seq"`
	Tag   Tag    `json:"tag"`
	// Elapsed is Tag.Time relative to the run's start time.
	Elapsed  Interval `json:"elapsed"`
	Triggers []string `json:"triggers"`
}

// DispatchRecord is one reaction invocation. Seq orders dispatches across
// the whole run.
type DispatchRecord struct {
	RunID    string   `json:"run_id"`
	Seq      int64    `json:"seq"`
	Instant  int64    `json:"instant"`
	Tag      Tag      `json:"tag"`
	Reaction string   `json:"reaction"`
	Priority int64    `json:"priority"`
	Lag      Interval `json:"lag"`
	Missed   bool     `json:"missed_deadline"`
}

// ScheduleRecord is one accepted or rejected scheduling request.
type ScheduleRecord struct {
	RunID   string  `json:"run_id"`
	Seq     int64   `json:"seq"`
	Handle  uint64  `json:"handle"`
	Trigger string  `json:"trigger"`
	Tag     Tag     `json:"tag"`
	Payload IRValue `json:"payload"`
	// Outcome is one of the Outcome* constants.
	Outcome string `json:"outcome"`
}

// Schedule outcomes.
const (
	OutcomeScheduled = "scheduled"
	OutcomeReplaced  = "replaced"
	OutcomeUpdated   = "updated"
	OutcomeDropped   = "dropped"
	OutcomePastStop  = "past_stop"
)

// RunStats summarizes a finished run.
type RunStats struct {
	Instants       int64 `json:"instants"`
	Dispatches     int64 `json:"dispatches"`
	Scheduled      int64 `json:"scheduled"`
	Dropped        int64 `json:"dropped"`
	DeadlineMisses int64 `json:"deadline_misses"`
	EventAllocs    int64 `json:"event_allocs"`
	EventReuses    int64 `json:"event_reuses"`
	ValueAllocs    int64 `json:"value_allocs"`
	ValueReuses    int64 `json:"value_reuses"`
	FinalTag       Tag   `json:"final_tag"`
}
