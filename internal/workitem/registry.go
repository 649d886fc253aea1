package workitem

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"loom/internal/services"
)

// Definition describes one registered work type: its stage tag and the
// payload validator applied at the queue boundary.
type Definition struct {
	Type Type
	// ValidatePayload rejects payloads that do not match the stage's schema.
	// A nil validator accepts any syntactically valid JSON object.
	ValidatePayload func(payload json.RawMessage) error
}

// Registry maps stage tags to their definitions. It is populated once at
// startup from the declared pipeline sequence and treated as immutable
// afterwards; registration of a tag outside the sequence fails.
type Registry struct {
	sequence []Type
	position map[Type]int
	defs     map[Type]Definition
}

// NewRegistry constructs a registry for the declared pipeline sequence.
func NewRegistry(sequence []string) (*Registry, error) {
	if len(sequence) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "workitem", "registry", "pipeline sequence is empty", nil)
	}
	r := &Registry{
		position: make(map[Type]int, len(sequence)),
		defs:     make(map[Type]Definition, len(sequence)),
	}
	for i, raw := range sequence {
		tag := Type(strings.ToLower(strings.TrimSpace(raw)))
		if tag == "" {
			return nil, services.Wrap(services.ErrConfiguration, "workitem", "registry", "empty stage tag in sequence", nil)
		}
		if _, dup := r.position[tag]; dup {
			return nil, services.Wrap(services.ErrConfiguration, "workitem", "registry", fmt.Sprintf("duplicate stage tag %q", tag), nil)
		}
		r.sequence = append(r.sequence, tag)
		r.position[tag] = i
	}
	return r, nil
}

// Register installs a definition for a stage tag. The tag must belong to the
// declared sequence and must not already carry a definition.
func (r *Registry) Register(def Definition) error {
	if _, ok := r.position[def.Type]; !ok {
		return services.Wrap(services.ErrConfiguration, "workitem", "register", fmt.Sprintf("unknown stage tag %q", def.Type), nil)
	}
	if _, dup := r.defs[def.Type]; dup {
		return services.Wrap(services.ErrConfiguration, "workitem", "register", fmt.Sprintf("stage tag %q already registered", def.Type), nil)
	}
	r.defs[def.Type] = def
	return nil
}

// Known reports whether the tag belongs to the declared sequence.
func (r *Registry) Known(tag Type) bool {
	_, ok := r.position[tag]
	return ok
}

// Position returns the zero-based position of the tag within the pipeline
// sequence, with ok=false for unknown tags.
func (r *Registry) Position(tag Type) (int, bool) {
	pos, ok := r.position[tag]
	return pos, ok
}

// Sequence returns the declared stage order.
func (r *Registry) Sequence() []Type {
	cp := make([]Type, len(r.sequence))
	copy(cp, r.sequence)
	return cp
}

// Types returns the registered tags in sorted order.
func (r *Registry) Types() []Type {
	tags := make([]Type, 0, len(r.defs))
	for tag := range r.defs {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// ValidatePayload checks a payload against the tag's registered schema.
// Unknown tags fail with a validation error; a payload must at minimum be a
// JSON object.
func (r *Registry) ValidatePayload(tag Type, payload json.RawMessage) error {
	if _, ok := r.position[tag]; !ok {
		return services.Wrap(services.ErrValidation, "workitem", "validate payload", fmt.Sprintf("unknown stage tag %q", tag), nil)
	}
	if len(payload) == 0 {
		return services.Wrap(services.ErrValidation, "workitem", "validate payload", "payload is empty", nil)
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return services.Wrap(services.ErrValidation, "workitem", "validate payload", "payload is not a JSON object", err)
	}
	def, ok := r.defs[tag]
	if !ok || def.ValidatePayload == nil {
		return nil
	}
	if err := def.ValidatePayload(payload); err != nil {
		return services.Wrap(services.ErrValidation, "workitem", "validate payload", fmt.Sprintf("stage %q rejected payload", tag), err)
	}
	return nil
}

// RequireFields returns a payload validator that insists on the presence of
// the named top-level fields.
func RequireFields(fields ...string) func(json.RawMessage) error {
	return func(payload json.RawMessage) error {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(payload, &probe); err != nil {
			return err
		}
		for _, field := range fields {
			if _, ok := probe[field]; !ok {
				return fmt.Errorf("missing required field %q", field)
			}
		}
		return nil
	}
}
