package ir

// ProgramSpec is the declarative form of a program, as written in CUE or
// YAML program files. Intervals are strings in the "<n> <unit>" form
// accepted by ParseInterval.
type ProgramSpec struct {
	Name      string         `json:"name" yaml:"name"`
	Run       RunConfig      `json:"run" yaml:"run"`
	Triggers  []TriggerDecl  `json:"triggers" yaml:"triggers"`
	Reactions []ReactionDecl `json:"reactions" yaml:"reactions"`
	Schedules []ScheduleDecl `json:"schedules,omitempty" yaml:"schedules,omitempty"`
}

// RunConfig holds a program's default run settings. Command-line flags
// override them.
type RunConfig struct {
	Timeout   string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	KeepAlive bool   `json:"keepalive,omitempty" yaml:"keepalive,omitempty"`
	Fast      bool   `json:"fast,omitempty" yaml:"fast,omitempty"`
}

// TriggerDecl declares a trigger. Kind is one of startup, shutdown, timer,
// logical, physical, port.
type TriggerDecl struct {
	Name       string `json:"name" yaml:"name"`
	Kind       string `json:"kind" yaml:"kind"`
	Offset     string `json:"offset,omitempty" yaml:"offset,omitempty"`
	Period     string `json:"period,omitempty" yaml:"period,omitempty"`
	MinSpacing string `json:"min_spacing,omitempty" yaml:"min_spacing,omitempty"`
	Policy     string `json:"policy,omitempty" yaml:"policy,omitempty"`
}

// ReactionDecl declares a reaction. A nil Priority asks the compiler to
// derive one from declaration order and port dependencies.
type ReactionDecl struct {
	Name       string   `json:"name" yaml:"name"`
	Priority   *int64   `json:"priority,omitempty" yaml:"priority,omitempty"`
	Deadline   string   `json:"deadline,omitempty" yaml:"deadline,omitempty"`
	Triggers   []string `json:"triggers" yaml:"triggers"`
	Effects    []string `json:"effects,omitempty" yaml:"effects,omitempty"`
	Body       BodyDecl `json:"body" yaml:"body"`
	OnDeadline string   `json:"on_deadline,omitempty" yaml:"on_deadline,omitempty"`
}

// BodyDecl selects a built-in reaction body and its arguments.
type BodyDecl struct {
	Builtin string `json:"builtin" yaml:"builtin"`
	// Target is the port or action written by forward, schedule and count.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
	// From is the trigger read by forward. Default: the first present
	// trigger.
	From    string `json:"from,omitempty" yaml:"from,omitempty"`
	Delay   string `json:"delay,omitempty" yaml:"delay,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	// Limit makes schedule and count stop rescheduling after this many
	// invocations. Zero means no limit.
	Limit int64 `json:"limit,omitempty" yaml:"limit,omitempty"`
	// Value is the payload scheduled by schedule. It is decoded separately
	// from CUE documents.
	Value any `json:"-" yaml:"value,omitempty"`
}

// ScheduleDecl is an event scheduled right after initialization.
type ScheduleDecl struct {
	Trigger string `json:"trigger" yaml:"trigger"`
	Delay   string `json:"delay,omitempty" yaml:"delay,omitempty"`
	Value   any    `json:"-" yaml:"value,omitempty"`
}
