package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/tempo/internal/compiler"
	"github.com/roach88/tempo/internal/engine"
	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/store"
	"github.com/roach88/tempo/internal/testutil"
)

// Option configures Run.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the logger handed to the scheduler. Runs are silent by
// default.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// Harness holds the per-scenario execution state.
type Harness struct {
	store    *store.Store
	clock    *testutil.ManualClock
	compiled *compiler.Compiled
	seen     []Observation
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory trace store with a manual clock,
// so results are reproducible.
//
// Execution flow:
// 1. Load and compile the program, wrapping every reaction body to observe
// the triggers it sees
// 2. Initialize the scheduler and post the program's initial events
// 3. Post the scenario's injections, checking expected errors
// 4. Run to completion and read the trace back from the store
// 5. Evaluate assertions
//
// The error return is for scenarios that cannot run at all (bad program,
// unknown trigger); failed expectations are reported in the Result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		clock:  testutil.NewManualClock(testutil.Epoch),
		logger: cfg.logger,
	}
	if err := h.compile(scenario); err != nil {
		return nil, err
	}

	settings := h.compiled.Run
	if scenario.Run != nil {
		if settings, err = compiler.ParseRunConfig(*scenario.Run); err != nil {
			return nil, err
		}
	}
	if settings.KeepAlive && settings.Timeout == 0 {
		return nil, fmt.Errorf("scenario %q: keepalive requires a timeout", scenario.Name)
	}

	sched := engine.New(h.compiled.Program, append(settings.Options(),
		engine.WithLogger(h.logger),
		engine.WithStartTime(ir.InstantOf(testutil.Epoch)),
		engine.WithPhysicalClock(h.clock),
		engine.WithRunIDGenerator(testutil.NewFixedRunID(scenario.RunID)),
		engine.WithRecorder(st),
	)...)
	if err := sched.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := h.compiled.ScheduleInitial(sched); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, inj := range scenario.Inject {
		if err := h.inject(sched, i, inj, result); err != nil {
			return nil, err
		}
	}

	ctx := context.Background()
	runErr := sched.Run(ctx)
	result.RunError = errorCode(runErr)
	switch {
	case runErr != nil && scenario.ExpectError == "":
		result.AddError(fmt.Sprintf("run failed: %v", runErr))
	case scenario.ExpectError != "" && result.RunError != scenario.ExpectError:
		result.AddError(fmt.Sprintf("expected run to fail with %s, got %q", scenario.ExpectError, result.RunError))
	}

	result.RunID = sched.RunID()
	if result.Trace, err = st.ReadTrace(ctx, result.RunID); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	result.Observations = append(result.Observations, h.seen...)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"instants", result.Stats().Instants,
		"dispatches", result.Stats().Dispatches,
	)
	return result, nil
}

func (h *Harness) compile(scenario *Scenario) error {
	spec := scenario.Program.Spec
	if spec == nil {
		var err error
		if spec, err = compiler.LoadFile(scenario.Program.Path); err != nil {
			return fmt.Errorf("load program: %w", err)
		}
	}
	compiled, err := compiler.CompileWith(spec, h.observe)
	if err != nil {
		return fmt.Errorf("compile program: %w", err)
	}
	h.compiled = compiled
	return nil
}

// observe wraps a reaction body to record the triggers it sees present.
func (h *Harness) observe(decl ir.ReactionDecl, body engine.ReactionBody) engine.ReactionBody {
	return func(rc *engine.ReactionContext) error {
		tag := rc.Tag()
		for _, name := range decl.Triggers {
			id, ok := rc.Lookup(name)
			if !ok || !rc.IsPresent(id) {
				continue
			}
			v, _ := rc.Get(id)
			h.seen = append(h.seen, Observation{
				Reaction:  decl.Name,
				Trigger:   name,
				Elapsed:   tag.Since(rc.StartTime()),
				Microstep: tag.Microstep,
				Value:     ir.Describe(v),
			})
		}
		return body(rc)
	}
}

// inject posts one scenario event. A mismatch with the expected error is a
// scenario failure, recorded in result.
func (h *Harness) inject(s *engine.Scheduler, index int, inj Injection, result *Result) error {
	id, ok := h.compiled.Program.TriggerByName(inj.Trigger)
	if !ok {
		return fmt.Errorf("inject[%d]: unknown trigger %q", index, inj.Trigger)
	}
	var delay ir.Interval
	if inj.Delay != "" {
		var err error
		if delay, err = ir.ParseInterval(inj.Delay); err != nil {
			return fmt.Errorf("inject[%d]: %w", index, err)
		}
	}
	value, err := ir.FromGo(inj.Value)
	if err != nil {
		return fmt.Errorf("inject[%d]: value: %w", index, err)
	}
	var payload any = value
	if _, isNull := value.(ir.IRNull); isNull {
		payload = nil
	}

	if inj.Async {
		_, err = s.ScheduleAsync(id, delay, payload)
	} else {
		_, err = s.Schedule(id, delay, payload)
	}
	if got := errorCode(err); got != inj.ExpectError {
		if inj.ExpectError == "" {
			result.AddError(fmt.Sprintf("inject[%d] %s: unexpected error: %v", index, inj.Trigger, err))
		} else {
			result.AddError(fmt.Sprintf("inject[%d] %s: expected %s, got %q", index, inj.Trigger, inj.ExpectError, got))
		}
	}
	return nil
}

// errorCode returns the runtime error code of err, "" for nil, or the
// error text for errors that carry no code.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	var rerr *engine.RuntimeError
	if errors.As(err, &rerr) {
		return string(rerr.Code)
	}
	return err.Error()
}
