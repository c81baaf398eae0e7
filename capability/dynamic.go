package capability

import (
	"encoding/json"
	"sort"
)

// DynamicSpec is the persistable form of an execution-scoped capability:
// enough to recompile and re-register it when a suspended execution resumes.
type DynamicSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Source      string          `json:"source"`
}

func (s *Scope) rememberSpec(spec DynamicSpec) {
	s.mu.Lock()
	s.specs[spec.Name] = spec
	s.mu.Unlock()
}

// DynamicNames returns the names of capabilities registered in this scope,
// sorted for deterministic iteration.
func (s *Scope) DynamicNames() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.caps))
	for name := range s.caps {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ExportDynamic returns the recompilable specs of all dynamic capabilities
// in this scope. Capabilities registered directly with a Go Func (rather
// than through the extender) have no source and are not exported.
func (s *Scope) ExportDynamic() []DynamicSpec {
	s.mu.RLock()
	out := make([]DynamicSpec, 0, len(s.specs))
	for _, spec := range s.specs {
		out = append(out, spec)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ImportDynamic recompiles previously exported specs into this scope. It is
// used when a suspended execution resumes in a fresh scope.
func (s *Scope) ImportDynamic(e *Extender, specs []DynamicSpec) error {
	for _, spec := range specs {
		fn, err := e.Compile(spec.Name, spec.Source)
		if err != nil {
			return err
		}
		meta := Metadata{
			Schema: Schema{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Parameters,
			},
			Timeout: e.policy.ExecTimeout,
		}
		if err := s.RegisterDynamic(spec.Name, fn, meta); err != nil {
			return err
		}
		s.rememberSpec(spec)
	}
	return nil
}
