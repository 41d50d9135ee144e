package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Load reads and parses a profile file, running the full set of semantic
// checks from spec §3. Any violation is returned as a fatal startup error
// naming the offending tool and field.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: failed to read %s: %w", path, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: failed to parse %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every invariant in spec §3 and returns the first
// violation found, naming the offending tool and field.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.ProfileName) == "" {
		return fmt.Errorf("profile: profile_name must be non-empty")
	}
	if len(p.Tools) == 0 {
		return fmt.Errorf("profile: tools must be non-empty")
	}

	for _, a := range p.Interceptors.Auth {
		switch a.Type {
		case "bearer", "query", "custom-header", "oauth":
		default:
			return fmt.Errorf("profile: interceptors.auth: unknown auth type %q", a.Type)
		}
		if a.Type == "oauth" && a.OAuth == nil {
			return fmt.Errorf("profile: interceptors.auth: oauth entry missing oauth config")
		}
	}

	actionSet := toSet(p.Actions)
	resourceSet := toSet(p.Resources)

	seen := make(map[string]bool, len(p.Tools))
	for i := range p.Tools {
		t := &p.Tools[i]
		if t.Name == "" {
			return fmt.Errorf("profile: tool[%d] has no name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("profile: tool %q: duplicate tool name", t.Name)
		}
		seen[t.Name] = true

		simple := len(t.Operations) > 0
		composite := t.Composite && len(t.Steps) > 0
		if simple == composite {
			return fmt.Errorf("profile: tool %q must be exactly one of simple (operations) or composite (steps)", t.Name)
		}

		if simple {
			for opKey := range t.Operations {
				if err := validateOperationKey(opKey, actionSet, resourceSet); err != nil {
					return fmt.Errorf("profile: tool %q: %w", t.Name, err)
				}
			}
		}

		if composite {
			if err := validateStepDAG(t.Steps); err != nil {
				return fmt.Errorf("profile: tool %q: %w", t.Name, err)
			}
		}

		for paramName, spec := range t.Parameters {
			for _, action := range spec.RequiredFor {
				if len(actionSet) > 0 && !actionSet[action] {
					return fmt.Errorf("profile: tool %q: parameter %q required_for references action %q not in action enum",
						t.Name, paramName, action)
				}
			}
		}
	}

	return nil
}

// validateOperationKey checks that key equals an action, or matches
// "{action}_{resource_type}" with both parts in their enums. When the
// enums are empty (not declared), any key is accepted — enum membership
// is only enforceable once the profile declares the enums.
func validateOperationKey(key string, actions, resources map[string]bool) error {
	if len(actions) == 0 {
		return nil
	}
	if actions[key] {
		return nil
	}
	for action := range actions {
		prefix := action + "_"
		if strings.HasPrefix(key, prefix) {
			resourceType := strings.TrimPrefix(key, prefix)
			if len(resources) == 0 || resources[resourceType] {
				return nil
			}
		}
	}
	return fmt.Errorf("operation key %q is neither an action nor {action}_{resource_type}", key)
}

// validateStepDAG checks that (nodes = store_as, edges = depends_on) forms
// a DAG and that every dependency names a step that exists.
func validateStepDAG(steps []CompositeStep) error {
	nodes := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.StoreAs == "" {
			return fmt.Errorf("composite step with call %q has empty store_as", s.Call)
		}
		if nodes[s.StoreAs] {
			return fmt.Errorf("duplicate store_as %q among composite steps", s.StoreAs)
		}
		nodes[s.StoreAs] = true
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if !nodes[dep] {
				return fmt.Errorf("step %q depends_on unknown step %q", s.StoreAs, dep)
			}
		}
	}

	// Cycle detection via DFS coloring.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	byStoreAs := make(map[string]CompositeStep, len(steps))
	for _, s := range steps {
		byStoreAs[s.StoreAs] = s
	}

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		for _, dep := range byStoreAs[name].DependsOn {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle detected at step %q", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}
	for name := range nodes {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}

	return nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	out := make(map[string]bool, len(items))
	for _, s := range items {
		out[s] = true
	}
	return out
}
