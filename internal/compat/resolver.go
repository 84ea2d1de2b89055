package compat

import (
	"orchestrator/internal/catalog"
	"orchestrator/internal/domain"
)

// Result is the outcome of a compatibility check. On success Engine names the engine
// the request will run on, either the one asked for or the one picked.
type Result struct {
	OK                  bool
	Engine              string
	Reason              domain.CompatibilityReason
	Workflow            string
	OffendingResourceID string
}

// Err converts a rejection into a *domain.CompatibilityError; nil when OK.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &domain.CompatibilityError{
		Reason:     r.Reason,
		Workflow:   r.Workflow,
		Engine:     r.Engine,
		ResourceID: r.OffendingResourceID,
	}
}

// Resolver checks resources, workflow and engine against the published catalog. It
// performs no I/O.
type Resolver struct {
	holder *catalog.Holder
}

func NewResolver(holder *catalog.Holder) *Resolver {
	return &Resolver{holder: holder}
}

// Validate reads the current catalog generation once and checks against it.
func (r *Resolver) Validate(resources []domain.ResourceRef, workflowKey, engine string) Result {
	return ValidateIn(r.holder.Current(), resources, workflowKey, engine)
}

// ValidateIn checks against a caller-held generation so a whole orchestration step
// sees one consistent catalog.
func ValidateIn(gen *catalog.Generation, resources []domain.ResourceRef, workflowKey, engine string) Result {
	wf := catalog.NormalizeKey(workflowKey)
	def, ok := gen.Workflow(wf)
	if !ok {
		return reject(domain.ReasonUnknownWorkflow, wf, "", "")
	}

	for _, res := range resources {
		if !gen.Ecosystems.Has(res.EcosystemKey) {
			return reject(domain.ReasonUnknownEcosystem, def.Key, "", res.ID)
		}
		if !gen.Ecosystems.SupportsWorkflow(res.EcosystemKey, def.Key) {
			return reject(domain.ReasonWorkflowUnsupported, def.Key, "", res.ID)
		}
	}

	if engine = catalog.NormalizeKey(engine); engine != "" {
		e, ok := gen.Engine(engine)
		if !ok {
			return reject(domain.ReasonEngineNotFound, def.Key, engine, "")
		}
		if e.Disabled {
			return reject(domain.ReasonEngineDisabled, def.Key, e.Key, "")
		}
		if res := checkEngine(gen, e, def.Key, resources); !res.OK {
			return res
		}
		return Result{OK: true, Engine: e.Key, Workflow: def.Key}
	}

	for _, e := range gen.Engines() {
		if e.Disabled {
			continue
		}
		if res := checkEngine(gen, e, def.Key, resources); res.OK {
			return Result{OK: true, Engine: e.Key, Workflow: def.Key}
		}
	}
	return reject(domain.ReasonNoCompatibleEngine, def.Key, "", "")
}

func checkEngine(gen *catalog.Generation, e catalog.Engine, workflow string, resources []domain.ResourceRef) Result {
	if !e.SupportsWorkflow(workflow) {
		return reject(domain.ReasonEngineWorkflow, workflow, e.Key, "")
	}
	for _, res := range resources {
		if !e.AcceptsEcosystem(gen.Ecosystems, res.EcosystemKey) {
			return reject(domain.ReasonEngineEcosystem, workflow, e.Key, res.ID)
		}
	}
	admitted, err := e.Admits(workflow, resources)
	if err != nil || !admitted {
		return reject(domain.ReasonEngineConstraint, workflow, e.Key, "")
	}
	return Result{OK: true, Engine: e.Key, Workflow: workflow}
}

func reject(reason domain.CompatibilityReason, workflow, engine, resourceID string) Result {
	return Result{
		Reason:              reason,
		Workflow:            workflow,
		Engine:              engine,
		OffendingResourceID: resourceID,
	}
}
