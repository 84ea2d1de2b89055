// Package sim is an in-process compute provider used in development and tests.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/songzhibin97/gkit/generator"

	"orchestrator/internal/domain"
	"orchestrator/internal/provider"
	"orchestrator/internal/steps"
)

type record struct {
	wf        domain.Workflow
	templates []steps.Template
	cancel    bool
}

// Provider accepts workflows and walks them through the status graph on demand
// (Advance) or on a timer (Run).
type Provider struct {
	mu          sync.Mutex
	ids         generator.Generator
	now         func() time.Time
	workflows   map[string]*record
	byKey       map[string]string
	failures    []error
	submissions int
	onChange    func(domain.Workflow)
	cdnBase     string
}

type Option func(*Provider)

// WithChangeHook is called, outside the lock, after every status change. It is how
// the simulator delivers push events.
func WithChangeHook(fn func(domain.Workflow)) Option {
	return func(p *Provider) { p.onChange = fn }
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

func New(opts ...Option) *Provider {
	p := &Provider{
		ids:       generator.NewSnowflake(time.Now().Add(-time.Second), 1),
		now:       time.Now,
		workflows: map[string]*record{},
		byKey:     map[string]string{},
		cdnBase:   "https://sim.invalid/outputs",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetChangeHook replaces the change hook after construction.
func (p *Provider) SetChangeHook(fn func(domain.Workflow)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// FailNext queues errors returned by the next submissions, one per call.
func (p *Provider) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, errs...)
}

// Submissions counts accepted jobs.
func (p *Provider) Submissions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submissions
}

func (p *Provider) SubmitWorkflow(ctx context.Context, req provider.SubmitRequest) (domain.Workflow, error) {
	if err := ctx.Err(); err != nil {
		return domain.Workflow{}, &domain.SubmissionError{Kind: domain.SubmissionProviderUnavailable, Err: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return domain.Workflow{}, err
	}
	if len(req.Steps) == 0 {
		return domain.Workflow{}, &domain.SubmissionError{Kind: domain.SubmissionRejectedInput, StatusCode: 400, Err: errors.New("no steps")}
	}
	if id, ok := p.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return p.workflows[id].wf.Clone(), nil
	}

	n, err := p.ids.NextID()
	if err != nil {
		return domain.Workflow{}, &domain.SubmissionError{Kind: domain.SubmissionProviderUnavailable, Err: err}
	}
	id := "wf-" + strconv.FormatUint(n, 10)
	now := p.now().UTC()
	wf := domain.Workflow{
		ID:             id,
		Status:         domain.StatusUnassigned,
		Priority:       req.Priority,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, tpl := range req.Steps {
		wf.Steps = append(wf.Steps, domain.Step{Name: tpl.Name, Type: string(tpl.Type()), Status: domain.StatusUnassigned})
	}
	p.workflows[id] = &record{wf: wf, templates: req.Steps}
	if req.IdempotencyKey != "" {
		p.byKey[req.IdempotencyKey] = id
	}
	p.submissions++
	return wf.Clone(), nil
}

func (p *Provider) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.workflows[id]
	if !ok {
		return domain.Workflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	return rec.wf.Clone(), nil
}

func (p *Provider) CancelWorkflow(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.workflows[id]
	if !ok {
		return fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	if rec.wf.Status.IsTerminal() {
		return fmt.Errorf("workflow %s: %w", id, domain.ErrNotCancelable)
	}
	rec.cancel = true
	return nil
}

// Advance moves a workflow and all its unfinished steps to status. A terminal
// workflow is left untouched.
func (p *Provider) Advance(id string, status domain.Status) (domain.Workflow, error) {
	p.mu.Lock()
	rec, ok := p.workflows[id]
	if !ok {
		p.mu.Unlock()
		return domain.Workflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
	}
	if rec.wf.Status.IsTerminal() {
		wf := rec.wf.Clone()
		p.mu.Unlock()
		return wf, nil
	}
	p.setLocked(rec, status)
	wf := rec.wf.Clone()
	hook := p.onChange
	p.mu.Unlock()

	if hook != nil {
		hook(wf)
	}
	return wf, nil
}

// Step advances every live workflow by one status; pending cancellations are
// confirmed first.
func (p *Provider) Step() {
	p.mu.Lock()
	var changed []domain.Workflow
	for _, rec := range p.workflows {
		if rec.wf.Status.IsTerminal() {
			continue
		}
		next := nextStatus(rec.wf.Status)
		if rec.cancel {
			next = domain.StatusCanceled
		}
		p.setLocked(rec, next)
		changed = append(changed, rec.wf.Clone())
	}
	hook := p.onChange
	p.mu.Unlock()

	if hook != nil {
		for _, wf := range changed {
			hook(wf)
		}
	}
}

// Run calls Step every interval until ctx is done.
func (p *Provider) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Step()
		}
	}
}

func (p *Provider) setLocked(rec *record, status domain.Status) {
	rec.wf.Status = status
	rec.wf.UpdatedAt = p.now().UTC()
	for i := range rec.wf.Steps {
		step := &rec.wf.Steps[i]
		if step.Status.IsTerminal() {
			continue
		}
		step.Status = status
		if status == domain.StatusSucceeded && i < len(rec.templates) {
			out := &outputs{base: p.cdnBase + "/" + rec.wf.ID + "/" + step.Name}
			if err := rec.templates[i].Input.Accept(out); err == nil {
				step.Output = out.result
			}
		}
	}
}

func nextStatus(s domain.Status) domain.Status {
	switch s {
	case domain.StatusUnassigned:
		return domain.StatusPreparing
	case domain.StatusPreparing:
		return domain.StatusScheduled
	case domain.StatusScheduled:
		return domain.StatusProcessing
	default:
		return domain.StatusSucceeded
	}
}

// outputs fabricates the result payload each step type would produce.
type outputs struct {
	base   string
	result map[string]any
}

func (o *outputs) images(n int) {
	if n < 1 {
		n = 1
	}
	list := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, map[string]any{"url": fmt.Sprintf("%s/%d.png", o.base, i)})
	}
	o.result = map[string]any{"images": list}
}

func (o *outputs) video() {
	o.result = map[string]any{"video": map[string]any{"url": o.base + "/video.mp4"}}
}

func (o *outputs) TextToImage(in *steps.TextToImageInput) error {
	o.images(in.Quantity)
	return nil
}

func (o *outputs) VideoGen(*steps.VideoGenInput) error {
	o.video()
	return nil
}

func (o *outputs) ImageUpscaler(*steps.ImageUpscalerInput) error {
	o.images(1)
	return nil
}

func (o *outputs) VideoUpscaler(*steps.VideoUpscalerInput) error {
	o.video()
	return nil
}

func (o *outputs) VideoEnhancement(*steps.VideoEnhancementInput) error {
	o.video()
	return nil
}

var _ provider.Client = (*Provider)(nil)
