package capability

import (
	"encoding/json"

	"github.com/taskmesh/taskmesh/types"
)

// Schema defines a capability's interface: name, description, and a JSON
// Schema describing the input object.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// parameterSpec is the subset of JSON Schema the registry enforces on input.
type parameterSpec struct {
	Type       string                     `json:"type"`
	Required   []string                   `json:"required"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// ValidateArgs checks a capability call's arguments against the schema:
// arguments must be a JSON object and every required property must be
// present. Deeper validation is left to the implementation.
func (s Schema) ValidateArgs(args json.RawMessage) error {
	if len(s.Parameters) == 0 {
		if len(args) == 0 {
			return nil
		}
		var tmp any
		if err := json.Unmarshal(args, &tmp); err != nil {
			return types.NewErrorf(types.ErrCapabilityError, "invalid arguments for %q", s.Name).WithCause(err).WithCapability(s.Name)
		}
		return nil
	}

	var spec parameterSpec
	if err := json.Unmarshal(s.Parameters, &spec); err != nil {
		return types.NewErrorf(types.ErrCapabilityError, "capability %q has a malformed parameter schema", s.Name).WithCause(err).WithCapability(s.Name)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(args, &obj); err != nil {
		return types.NewErrorf(types.ErrCapabilityError, "arguments for %q must be a JSON object", s.Name).WithCause(err).WithCapability(s.Name)
	}
	for _, req := range spec.Required {
		if _, ok := obj[req]; !ok {
			return types.NewErrorf(types.ErrCapabilityError, "missing required argument %q for capability %q", req, s.Name).WithCapability(s.Name)
		}
	}
	return nil
}
