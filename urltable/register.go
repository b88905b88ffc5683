package urltable

import (
	"fmt"
	"sort"
	"sync"
)

// URLEngine is the engine name bound by RegisterURL.
const URLEngine = "URL"

// Arg is one positional argument of a table declaration. Its concrete type is
// chosen by the caller; a Resolver turns it into a string.
type Arg any

// LiteralArg is an Arg that is already a constant string.
type LiteralArg string

// Resolver evaluates a declaration argument to a constant string. Errors are
// returned to the caller unchanged.
type Resolver func(arg Arg) (string, error)

// Declaration is a table definition handed to a registered engine.
type Declaration struct {
	Engine      string
	Args        []Arg
	ID          string
	Schema      Schema
	Constraints []Constraint

	// Resolve evaluates Args. Nil accepts LiteralArg and string arguments only.
	Resolve Resolver
}

func (d Declaration) resolve(i int) (string, error) {
	if d.Resolve != nil {
		return d.Resolve(d.Args[i])
	}
	switch v := d.Args[i].(type) {
	case LiteralArg:
		return string(v), nil
	case string:
		return v, nil
	default:
		return "", errorf(KindConfig, "resolve argument", "argument %d is %T, not a constant string", i+1, v)
	}
}

// EngineFunc builds a table from a declaration.
type EngineFunc func(decl Declaration) (*Table, error)

// Registry maps engine names to table constructors.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]EngineFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]EngineFunc)}
}

// Register binds name to fn, replacing any previous binding.
func (r *Registry) Register(name string, fn EngineFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[name] = fn
}

// Engines returns the registered engine names, sorted.
func (r *Registry) Engines() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds a table with the engine named by decl.Engine.
func (r *Registry) Create(decl Declaration) (*Table, error) {
	r.mu.RLock()
	fn, ok := r.engines[decl.Engine]
	r.mu.RUnlock()
	if !ok {
		return nil, errorf(KindConfig, "create table", "unknown engine %q", decl.Engine)
	}
	return fn(decl)
}

// RegisterURL binds the URL engine to reg.
//
// A URL declaration takes 2 or 3 arguments: the locator, the format name,
// and an optional compression method (default "auto"). opts are applied to
// every table the engine creates.
func RegisterURL(reg *Registry, opts ...Option) {
	reg.Register(URLEngine, func(decl Declaration) (*Table, error) {
		return newURLTable(decl, opts...)
	})
}

func newURLTable(decl Declaration, opts ...Option) (*Table, error) {
	if n := len(decl.Args); n != 2 && n != 3 {
		return nil, &Error{
			Kind: KindArgumentCount,
			Op:   "create table",
			Err:  fmt.Errorf("%w, got %d", ErrArgumentCount, n),
		}
	}

	locator, err := decl.resolve(0)
	if err != nil {
		return nil, err
	}
	format, err := decl.resolve(1)
	if err != nil {
		return nil, err
	}
	compression := string(CompressionAuto)
	if len(decl.Args) == 3 {
		if compression, err = decl.resolve(2); err != nil {
			return nil, err
		}
	}

	return NewTable(TableConfig{
		ID:          decl.ID,
		Locator:     locator,
		Format:      format,
		Compression: compression,
		Schema:      decl.Schema,
		Constraints: decl.Constraints,
	}, opts...)
}
