package ir

// Version constants for trace records and the scheduler.
const (
	// TraceVersion is the trace record schema version.
	TraceVersion = "1"

	// EngineVersion is the tempo scheduler version.
	EngineVersion = "0.1.0"
)
