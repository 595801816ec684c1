package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/brandvault/dam-backend/internal/domain"
	jobrt "github.com/brandvault/dam-backend/internal/jobs/runtime"
	"github.com/brandvault/dam-backend/internal/services"
)

func fastEngine() *Engine {
	e := NewEngine()
	e.MinPollInterval = time.Millisecond
	e.MaxPollInterval = time.Millisecond
	return e
}

func fastRetry(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}
}

func testJobContext(payload map[string]any) *jobrt.Context {
	var raw datatypes.JSON
	if payload != nil {
		b, _ := json.Marshal(payload)
		raw = datatypes.JSON(b)
	}
	job := &types.JobRun{
		ID:       uuid.New(),
		TenantID: uuid.New(),
		JobType:  "test_job",
		Status:   types.JobQueued,
		Payload:  raw,
	}
	return jobrt.NewContext(context.Background(), nil, job, nil, services.NopNotifier())
}

// runToTerminal replays the claim loop: a yielded job gets handed straight
// back to the engine until it lands in a terminal status.
func runToTerminal(t *testing.T, e *Engine, jc *jobrt.Context, stages []Stage) {
	t.Helper()
	for i := 0; i < 100; i++ {
		if err := e.Run(jc, stages, nil); err != nil {
			t.Fatalf("engine run returned error: %v", err)
		}
		if jc.Job.Status == types.JobSucceeded || jc.Job.Status == types.JobFailed {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job never reached a terminal status, stage=%s status=%s", jc.Job.Stage, jc.Job.Status)
}

func TestEngineRunsStagesInOrder(t *testing.T) {
	var order []string
	mk := func(name string, start, end int) Stage {
		return Stage{
			Name:     name,
			StartPct: start,
			EndPct:   end,
			Retry:    fastRetry(1),
			Run: func(jc *jobrt.Context, st *State) (map[string]any, error) {
				order = append(order, name)
				return map[string]any{"ran": name}, nil
			},
		}
	}
	stages := []Stage{mk("one", 0, 30), mk("two", 30, 60), mk("three", 60, 100)}

	jc := testJobContext(nil)
	runToTerminal(t, fastEngine(), jc, stages)

	if jc.Job.Status != types.JobSucceeded {
		t.Fatalf("expected succeeded, got %s (error=%s)", jc.Job.Status, jc.Job.Error)
	}
	if jc.Job.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", jc.Job.Progress)
	}
	if len(order) != 3 || order[0] != "one" || order[1] != "two" || order[2] != "three" {
		t.Fatalf("unexpected stage order: %v", order)
	}

	var result map[string]any
	if err := json.Unmarshal(jc.Job.Result, &result); err != nil {
		t.Fatalf("result unmarshal: %v", err)
	}
	outs, ok := result["outputs"].(map[string]any)
	if !ok {
		t.Fatalf("expected outputs in result, got %v", result)
	}
	if _, ok := outs["two"]; !ok {
		t.Fatalf("expected stage two outputs, got %v", outs)
	}
}

func TestEngineHonorsIsDoneProbe(t *testing.T) {
	runs := 0
	stages := []Stage{{
		Name:   "already_done",
		EndPct: 100,
		Retry:  fastRetry(1),
		IsDone: func(jc *jobrt.Context, st *State) (bool, error) { return true, nil },
		Run: func(jc *jobrt.Context, st *State) (map[string]any, error) {
			runs++
			return nil, nil
		},
	}}

	jc := testJobContext(nil)
	runToTerminal(t, fastEngine(), jc, stages)

	if jc.Job.Status != types.JobSucceeded {
		t.Fatalf("expected succeeded, got %s", jc.Job.Status)
	}
	if runs != 0 {
		t.Fatalf("expected Run to be skipped by IsDone, ran %d times", runs)
	}
}

func TestEngineSkipPredicate(t *testing.T) {
	runs := 0
	stages := []Stage{
		{
			Name:   "optional",
			EndPct: 50,
			Retry:  fastRetry(1),
			Skip:   func(jc *jobrt.Context, st *State) (bool, error) { return true, nil },
			Run: func(jc *jobrt.Context, st *State) (map[string]any, error) {
				runs++
				return nil, nil
			},
		},
		{
			Name:   "required",
			EndPct: 100,
			Retry:  fastRetry(1),
			Run:    func(jc *jobrt.Context, st *State) (map[string]any, error) { return nil, nil },
		},
	}

	jc := testJobContext(nil)
	runToTerminal(t, fastEngine(), jc, stages)

	if jc.Job.Status != types.JobSucceeded {
		t.Fatalf("expected succeeded, got %s", jc.Job.Status)
	}
	if runs != 0 {
		t.Fatalf("skipped stage ran %d times", runs)
	}
	st, err := LoadState(jc, 1)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if got := st.EnsureStage("optional").Status; got != StageSkipped {
		t.Fatalf("expected skipped, got %s", got)
	}
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	firstRuns := 0
	flakyRuns := 0
	stages := []Stage{
		{
			Name:   "stable",
			EndPct: 50,
			Retry:  fastRetry(1),
			Run: func(jc *jobrt.Context, st *State) (map[string]any, error) {
				firstRuns++
				return nil, nil
			},
		},
		{
			Name:   "flaky",
			EndPct: 100,
			Retry:  fastRetry(3),
			Run: func(jc *jobrt.Context, st *State) (map[string]any, error) {
				flakyRuns++
				if flakyRuns < 3 {
					return nil, errors.New("transient")
				}
				return nil, nil
			},
		},
	}

	jc := testJobContext(nil)
	runToTerminal(t, fastEngine(), jc, stages)

	if jc.Job.Status != types.JobSucceeded {
		t.Fatalf("expected succeeded after retries, got %s (error=%s)", jc.Job.Status, jc.Job.Error)
	}
	if flakyRuns != 3 {
		t.Fatalf("expected 3 attempts of flaky stage, got %d", flakyRuns)
	}
	// The checkpoint must keep the first stage from replaying across requeues.
	if firstRuns != 1 {
		t.Fatalf("expected stable stage to run once, ran %d times", firstRuns)
	}
}

func TestEngineFailsPastRetryBudget(t *testing.T) {
	runs := 0
	stages := []Stage{{
		Name:   "doomed",
		EndPct: 100,
		Retry:  fastRetry(2),
		Run: func(jc *jobrt.Context, st *State) (map[string]any, error) {
			runs++
			return nil, errors.New("permanent")
		},
	}}

	jc := testJobContext(nil)
	runToTerminal(t, fastEngine(), jc, stages)

	if jc.Job.Status != types.JobFailed {
		t.Fatalf("expected failed, got %s", jc.Job.Status)
	}
	if jc.Job.Stage != "doomed" {
		t.Fatalf("expected failure attributed to stage, got %q", jc.Job.Stage)
	}
	if runs != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", runs)
	}
}

func TestEngineNonRetryableErrorFailsImmediately(t *testing.T) {
	runs := 0
	fatal := errors.New("bad input")
	stages := []Stage{{
		Name:   "strict",
		EndPct: 100,
		Retry: RetryPolicy{
			MaxAttempts: 5,
			MinBackoff:  time.Millisecond,
			Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
		},
		Run: func(jc *jobrt.Context, st *State) (map[string]any, error) {
			runs++
			return nil, fatal
		},
	}}

	jc := testJobContext(nil)
	runToTerminal(t, fastEngine(), jc, stages)

	if jc.Job.Status != types.JobFailed {
		t.Fatalf("expected failed, got %s", jc.Job.Status)
	}
	if runs != 1 {
		t.Fatalf("expected single attempt for non-retryable error, got %d", runs)
	}
}

func TestEngineRejectsDuplicateStageNames(t *testing.T) {
	noop := func(jc *jobrt.Context, st *State) (map[string]any, error) { return nil, nil }
	stages := []Stage{
		{Name: "dup", EndPct: 50, Run: noop},
		{Name: "dup", EndPct: 100, Run: noop},
	}

	jc := testJobContext(nil)
	if err := fastEngine().Run(jc, stages, nil); err != nil {
		t.Fatalf("engine run returned error: %v", err)
	}
	if jc.Job.Status != types.JobFailed || jc.Job.Stage != "validate" {
		t.Fatalf("expected validation failure, got status=%s stage=%s", jc.Job.Status, jc.Job.Stage)
	}
}

func TestComputeBackoffBounded(t *testing.T) {
	r := RetryPolicy{MinBackoff: time.Second, MaxBackoff: 8 * time.Second, JitterFrac: 0.2}
	for attempt := 1; attempt <= 10; attempt++ {
		d := computeBackoff(r, attempt)
		if d < 0 {
			t.Fatalf("negative backoff at attempt %d: %v", attempt, d)
		}
		// max plus full jitter headroom
		if d > 8*time.Second+8*time.Second/5 {
			t.Fatalf("backoff above cap at attempt %d: %v", attempt, d)
		}
	}
}

func TestStateRoundTripsThroughResult(t *testing.T) {
	jc := testJobContext(nil)
	st, _ := LoadState(jc, 1)
	ss := st.EnsureStage("thumbs")
	ss.Status = StageSucceeded
	ss.Outputs = map[string]any{"path": "a/b/c.jpg"}
	if err := SaveState(jc, st); err != nil {
		t.Fatalf("save state: %v", err)
	}

	reloaded, err := LoadState(jc, 1)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if reloaded.EnsureStage("thumbs").Status != StageSucceeded {
		t.Fatalf("stage status lost in round trip")
	}
	if got, ok := reloaded.StageOutput("thumbs", "path"); !ok || got != "a/b/c.jpg" {
		t.Fatalf("stage output lost, got %v", got)
	}
}
