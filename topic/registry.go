// Package topic provides the in-memory catalog of bus topics and the subject
// router used to build hierarchical NATS subjects.
package topic

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/simbuilder/servicebus/errors"
	"github.com/simbuilder/servicebus/message"
)

// RetentionPolicy selects how the backing stream retains messages.
type RetentionPolicy string

// Retention policies supported by the bus.
const (
	RetentionWorkQueue RetentionPolicy = "work_queue"
	RetentionLimits    RetentionPolicy = "limits"
)

// IsValid reports whether the retention policy is a known value.
func (r RetentionPolicy) IsValid() bool {
	return r == RetentionWorkQueue || r == RetentionLimits
}

// Definition describes a named topic: its subject pattern, the message kinds
// allowed on it, and the retention configuration applied to its stream.
type Definition struct {
	Name           string
	SubjectPattern string
	Description    string
	AllowedTypes   []message.Type
	Retention      RetentionPolicy
	MaxAge         time.Duration
	MaxMsgs        int64
	Replicas       int
}

// Validate performs structural validation of the definition.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Definition", "Validate", "name cannot be empty")
	}
	if d.SubjectPattern == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Definition", "Validate", "subject pattern cannot be empty")
	}
	if len(d.AllowedTypes) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Definition", "Validate", "allowed types cannot be empty")
	}
	if !d.Retention.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Definition", "Validate",
			fmt.Sprintf("unknown retention policy %q", d.Retention))
	}
	if d.MaxAge <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Definition", "Validate", "max age must be positive")
	}
	if d.MaxMsgs <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Definition", "Validate", "max msgs must be positive")
	}
	if d.Replicas < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Definition", "Validate", "replicas must be >= 1")
	}
	return nil
}

// Allows reports whether the message kind is on the topic's allow-list.
func (d *Definition) Allows(t message.Type) bool {
	for _, allowed := range d.AllowedTypes {
		if allowed == t {
			return true
		}
	}
	return false
}

// Matches reports whether a concrete subject matches the topic's pattern.
//
// Matching is token-wise: "*" matches exactly one token and ">" matches one
// or more trailing tokens, except that a trailing "*" also matches the
// remainder of the subject. The predefined topics use trailing-"*" patterns
// (e.g. "tenant.discovery.*") that must cover subjects with further
// hierarchy such as "tenant.discovery.<session>.<event>".
func (d *Definition) Matches(subject string) bool {
	if subject == "" {
		return false
	}

	patTokens := strings.Split(d.SubjectPattern, ".")
	subTokens := strings.Split(subject, ".")

	for i, pat := range patTokens {
		last := i == len(patTokens)-1

		if pat == ">" || (pat == "*" && last) {
			// Wildcard tail: at least one token must remain.
			return len(subTokens) > i
		}

		if i >= len(subTokens) {
			return false
		}
		if pat != "*" && pat != subTokens[i] {
			return false
		}
	}

	return len(subTokens) == len(patTokens)
}

// Registry is the central, in-memory catalog of topic definitions.
//
// Registries are explicit instances passed to the components that need them;
// there is no package-level shared table. Iteration order for List and
// MatchSubject is registration order.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	byName map[string]*Definition
}

// NewRegistry creates a registry pre-populated with the platform's
// predefined topics.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]*Definition),
	}

	for _, def := range predefined() {
		// Predefined definitions are statically valid.
		_ = r.Add(def)
	}

	return r
}

// predefined returns the topics every registry starts with.
func predefined() []Definition {
	return []Definition{
		{
			Name:           "discovery",
			SubjectPattern: "tenant.discovery.*",
			Description:    "Tenant discovery session events and progress updates",
			AllowedTypes: []message.Type{
				message.TypeProgressUpdate,
				message.TypeDiscoveryStart,
				message.TypeDiscoveryComplete,
				message.TypeDiscoveryError,
			},
			Retention: RetentionWorkQueue,
			MaxAge:    2 * time.Hour,
			MaxMsgs:   50_000,
			Replicas:  1,
		},
		{
			Name:           "system_events",
			SubjectPattern: "system.*",
			Description:    "Platform component status and health events",
			AllowedTypes:   []message.Type{message.TypeSystemStatus},
			Retention:      RetentionLimits,
			MaxAge:         1 * time.Hour,
			MaxMsgs:        10_000,
			Replicas:       1,
		},
		{
			Name:           "simulation_events",
			SubjectPattern: "simulation.*",
			Description:    "Simulation lifecycle and progress events",
			AllowedTypes: []message.Type{
				message.TypeProgressUpdate,
				message.TypeSystemStatus,
			},
			Retention: RetentionWorkQueue,
			MaxAge:    4 * time.Hour,
			MaxMsgs:   100_000,
			Replicas:  1,
		},
	}
}

// Get returns the definition registered under name.
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.byName[name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrTopicNotFound, "Registry", "Get",
			fmt.Sprintf("lookup topic %q", name))
	}

	cp := *def
	return &cp, nil
}

// List returns all registered topics in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, *r.byName[name])
	}
	return defs
}

// Add inserts or overwrites a definition keyed by name.
func (r *Registry) Add(def Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.byName[def.Name] = &def
	return nil
}

// Remove deletes a topic by name, reporting whether it existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; !exists {
		return false
	}

	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// MatchSubject finds the first registered topic whose pattern matches the
// subject. Ties break in registration order.
func (r *Registry) MatchSubject(subject string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		def := r.byName[name]
		if def.Matches(subject) {
			cp := *def
			return &cp, true
		}
	}
	return nil, false
}

// ValidateSubject reports whether any registered topic covers the subject.
func (r *Registry) ValidateSubject(subject string) bool {
	_, ok := r.MatchSubject(subject)
	return ok
}
