package catalog

import (
	"sort"
)

// Generation is one consistent, immutable view of ecosystems, workflows and engines.
// Engine toggles produce a new Generation that shares the ecosystem registry.
type Generation struct {
	Version    uint64
	Ecosystems *Registry

	workflows map[string]WorkflowDefinition
	engines   []Engine
	engineIdx map[string]int
}

func newGeneration(version uint64, reg *Registry, workflows map[string]WorkflowDefinition, engines []Engine) *Generation {
	sorted := append([]Engine(nil), engines...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	idx := make(map[string]int, len(sorted))
	for i, e := range sorted {
		idx[e.Key] = i
	}
	return &Generation{
		Version:    version,
		Ecosystems: reg,
		workflows:  workflows,
		engines:    sorted,
		engineIdx:  idx,
	}
}

// Workflow returns the definition for key.
func (g *Generation) Workflow(key string) (WorkflowDefinition, bool) {
	def, ok := g.workflows[NormalizeKey(key)]
	return def, ok
}

// Workflows lists definitions sorted by key.
func (g *Generation) Workflows() []WorkflowDefinition {
	out := make([]WorkflowDefinition, 0, len(g.workflows))
	for _, def := range g.workflows {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Engine returns the engine registered under key.
func (g *Generation) Engine(key string) (Engine, bool) {
	i, ok := g.engineIdx[NormalizeKey(key)]
	if !ok {
		return Engine{}, false
	}
	return g.engines[i], true
}

// Engines lists engines in configured priority order.
func (g *Generation) Engines() []Engine {
	return append([]Engine(nil), g.engines...)
}

// withEngineStates applies runtime overrides on top of each engine's catalog
// default. It returns nil when nothing changes.
func (g *Generation) withEngineStates(version uint64, overrides map[string]bool) *Generation {
	changed := false
	engines := make([]Engine, len(g.engines))
	for i, e := range g.engines {
		want := e.baseDisabled
		if v, ok := overrides[e.Key]; ok {
			want = v
		}
		if want != e.Disabled {
			changed = true
			e.Disabled = want
		}
		engines[i] = e
	}
	if !changed {
		return nil
	}
	return newGeneration(version, g.Ecosystems, g.workflows, engines)
}
