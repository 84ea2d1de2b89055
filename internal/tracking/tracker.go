package tracking

import (
	"context"
	"sync"
	"time"

	"orchestrator/internal/domain"
)

// Source names the channel an update arrived on.
type Source string

const (
	SourcePush  Source = "push"
	SourcePoll  Source = "poll"
	SourceLocal Source = "local"
)

// Outcome reports what Apply did with an update.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeDuplicate
	OutcomeStale
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "stale"
	}
}

// Update is one observation of a workflow or of one of its steps. Poll results
// carry the full step list; push events usually name a single step.
type Update struct {
	WorkflowID string
	StepName   string
	Status     domain.Status
	Detail     string
	Output     map[string]any
	Steps      []domain.Step
	Source     Source
}

// Tracker owns the observed state of one workflow. Every channel feeds the same
// monotonic Apply, so arrival order between push and poll does not matter.
type Tracker struct {
	mu      sync.Mutex
	wf      domain.Workflow
	changed chan struct{}
	done    chan struct{}
	now     func() time.Time
}

func newTracker(wf domain.Workflow, now func() time.Time) *Tracker {
	if wf.Status == "" {
		wf.Status = domain.StatusUnassigned
	}
	t := &Tracker{
		wf:      wf.Clone(),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
		now:     now,
	}
	if wf.Status.IsTerminal() {
		close(t.done)
	}
	return t
}

func (t *Tracker) ID() string {
	return t.wf.ID
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() domain.Workflow {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wf.Clone()
}

// Changed returns a channel closed at the next state change.
func (t *Tracker) Changed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Done is closed once the workflow reaches a terminal status.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the workflow is terminal or ctx ends.
func (t *Tracker) Wait(ctx context.Context) (domain.Workflow, error) {
	select {
	case <-t.done:
		return t.Snapshot(), nil
	case <-ctx.Done():
		return t.Snapshot(), ctx.Err()
	}
}

// Apply folds u into the tracker. Updates that would move the workflow or a step
// backwards are discarded as stale; repeats of the current state are duplicates.
func (t *Tracker) Apply(u Update) Outcome {
	if u.Status.Rank() < 0 {
		return OutcomeStale
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.wf.Status.IsTerminal() {
		if u.StepName == "" && u.Status == t.wf.Status {
			return OutcomeDuplicate
		}
		return OutcomeStale
	}

	var advanced bool
	if u.StepName != "" {
		outcome := t.applyStepLocked(u)
		if outcome != OutcomeApplied {
			return outcome
		}
		advanced = true
	} else {
		cur, next := t.wf.Status.Rank(), u.Status.Rank()
		if next < cur {
			return OutcomeStale
		}
		if next > cur {
			t.wf.Status = u.Status
			advanced = true
		}
		if t.mergeStepsLocked(u.Steps) {
			advanced = true
			t.deriveStatusLocked()
		}
		if u.Status.IsTerminal() {
			t.closeOpenStepsLocked(u.Status)
		}
		if advanced && u.Detail != "" {
			t.wf.Detail = u.Detail
		}
	}
	if !advanced {
		return OutcomeDuplicate
	}
	t.wf.UpdatedAt = t.now().UTC()
	t.broadcastLocked()
	return OutcomeApplied
}

func (t *Tracker) applyStepLocked(u Update) Outcome {
	i := t.wf.StepByName(u.StepName)
	if i < 0 {
		return OutcomeStale
	}
	step := &t.wf.Steps[i]
	cur, next := step.Status.Rank(), u.Status.Rank()
	if next < cur {
		return OutcomeStale
	}
	if next == cur {
		if step.Status != u.Status {
			return OutcomeStale
		}
		if len(u.Output) == 0 || step.Output != nil {
			return OutcomeDuplicate
		}
	}
	step.Status = u.Status
	if u.Detail != "" {
		step.Detail = u.Detail
	}
	if len(u.Output) > 0 {
		step.Output = u.Output
	}
	t.deriveStatusLocked()
	return OutcomeApplied
}

// mergeStepsLocked applies a full step snapshot forward-only and reports whether any
// step changed.
func (t *Tracker) mergeStepsLocked(steps []domain.Step) bool {
	changed := false
	for _, in := range steps {
		i := t.wf.StepByName(in.Name)
		if i < 0 {
			if in.Status.Rank() < 0 {
				continue
			}
			t.wf.Steps = append(t.wf.Steps, in)
			changed = true
			continue
		}
		step := &t.wf.Steps[i]
		if in.Status.Rank() > step.Status.Rank() {
			step.Status = in.Status
			if in.Detail != "" {
				step.Detail = in.Detail
			}
			changed = true
		}
		if step.Status == in.Status && step.Output == nil && len(in.Output) > 0 {
			step.Output = in.Output
			changed = true
		}
	}
	return changed
}

func (t *Tracker) closeOpenStepsLocked(status domain.Status) {
	for i := range t.wf.Steps {
		if !t.wf.Steps[i].Status.IsTerminal() {
			t.wf.Steps[i].Status = status
		}
	}
}

// deriveStatusLocked raises the workflow status to reflect its steps. Once every
// step is terminal the workflow takes the most severe step outcome.
func (t *Tracker) deriveStatusLocked() {
	allTerminal := len(t.wf.Steps) > 0
	candidate := domain.StatusUnassigned
	for _, s := range t.wf.Steps {
		if !s.Status.IsTerminal() {
			allTerminal = false
		}
		r := s.Status
		if r.IsTerminal() {
			r = domain.StatusProcessing
		}
		if r.Rank() > candidate.Rank() {
			candidate = r
		}
	}
	if allTerminal {
		candidate = terminalOutcome(t.wf.Steps)
	}
	if candidate.Rank() > t.wf.Status.Rank() {
		t.wf.Status = candidate
	}
}

func terminalOutcome(steps []domain.Step) domain.Status {
	severity := map[domain.Status]int{
		domain.StatusSucceeded: 0,
		domain.StatusExpired:   1,
		domain.StatusCanceled:  2,
		domain.StatusFailed:    3,
	}
	out := domain.StatusSucceeded
	for _, s := range steps {
		if severity[s.Status] > severity[out] {
			out = s.Status
		}
	}
	return out
}

func (t *Tracker) broadcastLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
	if t.wf.Status.IsTerminal() {
		select {
		case <-t.done:
		default:
			close(t.done)
		}
	}
}

// markCancelRequested records that the provider was asked to cancel.
func (t *Tracker) markCancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.wf.Status.IsTerminal() || t.wf.CancelRequested {
		return false
	}
	t.wf.CancelRequested = true
	t.wf.UpdatedAt = t.now().UTC()
	close(t.changed)
	t.changed = make(chan struct{})
	return true
}

// expired reports whether the workflow is still pollable past maxAge.
func (t *Tracker) expired(maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wf.Status.IsPollable() && !t.wf.CreatedAt.IsZero() && t.now().Sub(t.wf.CreatedAt) >= maxAge
}

func (t *Tracker) deadline(maxAge time.Duration) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if maxAge <= 0 || t.wf.CreatedAt.IsZero() {
		return time.Time{}
	}
	return t.wf.CreatedAt.Add(maxAge)
}
