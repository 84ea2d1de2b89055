package catalog

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"orchestrator/internal/domain"
)

// maxDepth bounds parent chains so a bad catalog fails at load, not per request.
const maxDepth = 64

// NormalizeKey case-folds a catalog key. A Caser is stateful, so one is built per call.
func NormalizeKey(key string) string {
	return cases.Fold().String(strings.TrimSpace(key))
}

// Ecosystem is one node of the base-model hierarchy. Allow and Deny are explicit
// overrides at this node; everything else is inherited from the parent.
type Ecosystem struct {
	Key    string
	Parent string
	Allow  []string
	Deny   []string
}

type ecosystemNode struct {
	eco    Ecosystem
	parent *ecosystemNode
	allow  map[string]struct{}
	deny   map[string]struct{}
}

// Registry is an immutable arena of ecosystems indexed by key.
type Registry struct {
	nodes map[string]*ecosystemNode
	keys  []string
}

// NewRegistry validates defs and links every node to its parent. known, when non-nil,
// restricts allow/deny entries to registered workflow keys.
func NewRegistry(defs []Ecosystem, known map[string]WorkflowDefinition) (*Registry, error) {
	cfgErr := &ConfigError{}
	nodes := make(map[string]*ecosystemNode, len(defs))
	keys := make([]string, 0, len(defs))
	for _, def := range defs {
		eco := Ecosystem{
			Key:    NormalizeKey(def.Key),
			Parent: NormalizeKey(def.Parent),
			Allow:  normalizeKeys(def.Allow),
			Deny:   normalizeKeys(def.Deny),
		}
		if eco.Key == "" {
			cfgErr.Add("ecosystem with empty key")
			continue
		}
		if _, dup := nodes[eco.Key]; dup {
			cfgErr.Add(fmt.Sprintf("ecosystem %q declared twice", eco.Key))
			continue
		}
		n := &ecosystemNode{eco: eco, allow: toSet(eco.Allow), deny: toSet(eco.Deny)}
		for wf := range n.allow {
			if _, both := n.deny[wf]; both {
				cfgErr.Add(fmt.Sprintf("ecosystem %q both allows and denies %q", eco.Key, wf))
			}
		}
		if known != nil {
			for _, wf := range append(append([]string(nil), eco.Allow...), eco.Deny...) {
				if _, ok := known[wf]; !ok {
					cfgErr.Add(fmt.Sprintf("ecosystem %q references unknown workflow %q", eco.Key, wf))
				}
			}
		}
		nodes[eco.Key] = n
		keys = append(keys, eco.Key)
	}

	for _, key := range keys {
		n := nodes[key]
		if n.eco.Parent == "" {
			continue
		}
		parent, ok := nodes[n.eco.Parent]
		if !ok {
			cfgErr.Add(fmt.Sprintf("ecosystem %q has unknown parent %q", key, n.eco.Parent))
			continue
		}
		n.parent = parent
	}

	for _, key := range keys {
		if issue := checkChain(nodes[key]); issue != "" {
			cfgErr.Add(issue)
		}
	}

	if err := cfgErr.OrNil(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return &Registry{nodes: nodes, keys: keys}, nil
}

func checkChain(start *ecosystemNode) string {
	seen := map[string]struct{}{}
	path := []string{}
	for n := start; n != nil; n = n.parent {
		if _, ok := seen[n.eco.Key]; ok {
			return fmt.Sprintf("ecosystem parent cycle: %s -> %s", strings.Join(path, " -> "), n.eco.Key)
		}
		seen[n.eco.Key] = struct{}{}
		path = append(path, n.eco.Key)
		if len(path) > maxDepth {
			return fmt.Sprintf("ecosystem %q exceeds max depth %d", start.eco.Key, maxDepth)
		}
	}
	return ""
}

// Resolve returns the ecosystem definition for key.
func (r *Registry) Resolve(key string) (Ecosystem, error) {
	n, ok := r.nodes[NormalizeKey(key)]
	if !ok {
		return Ecosystem{}, fmt.Errorf("ecosystem %q: %w", key, domain.ErrNotFound)
	}
	return n.eco, nil
}

// Has reports whether key names a registered ecosystem.
func (r *Registry) Has(key string) bool {
	_, ok := r.nodes[NormalizeKey(key)]
	return ok
}

// Keys lists registered ecosystems in sorted order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.keys...)
}

// SupportsWorkflow walks from the ecosystem to the root. The nearest node with an
// explicit allow or deny for the workflow decides; no decision means unsupported.
func (r *Registry) SupportsWorkflow(ecosystemKey, workflowKey string) bool {
	n, ok := r.nodes[NormalizeKey(ecosystemKey)]
	if !ok {
		return false
	}
	wf := NormalizeKey(workflowKey)
	for ; n != nil; n = n.parent {
		if _, denied := n.deny[wf]; denied {
			return false
		}
		if _, allowed := n.allow[wf]; allowed {
			return true
		}
	}
	return false
}

// SupportedWorkflows resolves the full set of workflows available to an ecosystem.
func (r *Registry) SupportedWorkflows(ecosystemKey string) []string {
	n, ok := r.nodes[NormalizeKey(ecosystemKey)]
	if !ok {
		return nil
	}
	decided := map[string]bool{}
	for ; n != nil; n = n.parent {
		for wf := range n.deny {
			if _, ok := decided[wf]; !ok {
				decided[wf] = false
			}
		}
		for wf := range n.allow {
			if _, ok := decided[wf]; !ok {
				decided[wf] = true
			}
		}
	}
	out := make([]string, 0, len(decided))
	for wf, allowed := range decided {
		if allowed {
			out = append(out, wf)
		}
	}
	sort.Strings(out)
	return out
}

// Ancestors returns the chain starting at key itself and ending at the root.
func (r *Registry) Ancestors(key string) []string {
	n, ok := r.nodes[NormalizeKey(key)]
	if !ok {
		return nil
	}
	var out []string
	for ; n != nil; n = n.parent {
		out = append(out, n.eco.Key)
	}
	return out
}

func normalizeKeys(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = NormalizeKey(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func toSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}
