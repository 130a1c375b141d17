// Package catalog is the registry of event types payrelay emits.
//
// Every published event must name a registered type. A type may carry a
// JSON Schema for its metadata; Publish rejects events that do not conform.
package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrUnknownType is returned for an event type that was never registered.
	ErrUnknownType = errors.New("catalog: unknown event type")

	// ErrDeprecatedType is returned when publishing a deprecated type.
	ErrDeprecatedType = errors.New("catalog: event type is deprecated")
)

// Catalog holds event type definitions in memory. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	types     map[string]*EventType
	validator *Validator
	logger    *slog.Logger
}

// New returns a catalog preloaded with Defaults.
func New(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		types:     make(map[string]*EventType),
		validator: NewValidator(),
		logger:    logger,
	}
	for _, def := range Defaults {
		if _, err := c.Register(def); err != nil {
			panic(fmt.Sprintf("catalog: default %q: %v", def.Name, err))
		}
	}
	return c
}

// Register adds or replaces a definition. A schema that fails to compile is
// rejected so a bad definition can never block publishing later.
func (c *Catalog) Register(def Definition) (*EventType, error) {
	if def.Name == "" {
		return nil, errors.New("catalog: name is required")
	}
	if len(def.Schema) > 0 {
		if _, err := c.validator.compile(def.Schema); err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", def.Name, err)
		}
	}

	et := &EventType{Definition: def, RegisteredAt: time.Now().UTC()}

	c.mu.Lock()
	c.types[def.Name] = et
	c.mu.Unlock()

	c.logger.Debug("event type registered", "type", def.Name)
	return et, nil
}

// Get returns a registered type by name.
func (c *Catalog) Get(name string) (*EventType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	et, ok := c.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	return et, nil
}

// List returns all types sorted by name. Deprecated types are included only
// when includeDeprecated is set.
func (c *Catalog) List(includeDeprecated bool) []*EventType {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*EventType, 0, len(c.types))
	for _, et := range c.types {
		if et.Deprecated && !includeDeprecated {
			continue
		}
		out = append(out, et)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Deprecate marks a type so new events of that type are refused.
func (c *Catalog) Deprecate(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	et, ok := c.types[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	now := time.Now().UTC()
	et.Deprecated = true
	et.DeprecatedAt = &now
	return nil
}

// Check verifies that an event of type name with the given metadata may be
// published.
func (c *Catalog) Check(name string, metadata map[string]any) error {
	et, err := c.Get(name)
	if err != nil {
		return err
	}
	if et.Deprecated {
		return fmt.Errorf("%w: %s", ErrDeprecatedType, name)
	}
	if len(et.Schema) == 0 {
		return nil
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return c.validator.Validate(et.Schema, metadata)
}
