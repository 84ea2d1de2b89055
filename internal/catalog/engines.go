package catalog

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"orchestrator/internal/domain"
)

// Engine is a compute backend able to run some workflows. Ecosystems, when set,
// limits which resource ecosystems (or their descendants) the engine accepts.
type Engine struct {
	Key        string
	Disabled   bool
	Order      int
	Workflows  []string
	Ecosystems []string
	Constraint string

	baseDisabled bool
	workflows    map[string]struct{}
	ecosystems   map[string]struct{}
	program      *vm.Program
}

func newEngine(key string, disabled bool, order int, workflows, ecosystems []string, constraint string) (Engine, error) {
	e := Engine{
		Key:          NormalizeKey(key),
		Disabled:     disabled,
		Order:        order,
		Workflows:    normalizeKeys(workflows),
		Ecosystems:   normalizeKeys(ecosystems),
		Constraint:   constraint,
		baseDisabled: disabled,
	}
	e.workflows = toSet(e.Workflows)
	e.ecosystems = toSet(e.Ecosystems)
	if constraint != "" {
		program, err := expr.Compile(constraint, expr.Env(constraintEnv("", "", nil)), expr.AsBool())
		if err != nil {
			return Engine{}, fmt.Errorf("engine %q constraint: %w", e.Key, err)
		}
		e.program = program
	}
	return e, nil
}

// SupportsWorkflow reports whether the engine lists the workflow.
func (e Engine) SupportsWorkflow(workflowKey string) bool {
	_, ok := e.workflows[NormalizeKey(workflowKey)]
	return ok
}

// AcceptsEcosystem reports whether the engine accepts resources of the ecosystem,
// either directly or through one of its ancestors.
func (e Engine) AcceptsEcosystem(reg *Registry, ecosystemKey string) bool {
	if len(e.ecosystems) == 0 {
		return true
	}
	for _, key := range reg.Ancestors(ecosystemKey) {
		if _, ok := e.ecosystems[key]; ok {
			return true
		}
	}
	return false
}

// Admits evaluates the engine's admission constraint against a request. Engines
// without a constraint admit everything.
func (e Engine) Admits(workflowKey string, resources []domain.ResourceRef) (bool, error) {
	if e.program == nil {
		return true, nil
	}
	out, err := expr.Run(e.program, constraintEnv(NormalizeKey(workflowKey), e.Key, resources))
	if err != nil {
		return false, fmt.Errorf("engine %q constraint: %w", e.Key, err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func constraintEnv(workflow, engine string, resources []domain.ResourceRef) map[string]any {
	items := make([]any, 0, len(resources))
	for _, res := range resources {
		items = append(items, map[string]any{
			"id":        res.ID,
			"ecosystem": NormalizeKey(res.EcosystemKey),
			"modelType": res.ModelType,
			"nsfw":      res.NSFW,
		})
	}
	return map[string]any{
		"workflow":  workflow,
		"engine":    engine,
		"resources": items,
	}
}
