// Package schema validates raw request payloads against the JSON schemas
// stored in payload_schemas.
package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/garnizeh/hostel/pkg/repository"
	"github.com/qri-io/jsonschema"
)

// CreateAccount names the provisioning request schema.
const (
	CreateAccount        = "create_account"
	CreateAccountVersion = "v1"
)

var ErrNotFound = errors.New("schema: not found")

// Problem is a single validation failure.
type Problem struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Loader loads and caches compiled schemas from the repository.
type Loader struct {
	repo  repository.SchemaRepo
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

func NewLoader(ctx context.Context, r repository.SchemaRepo) (*Loader, error) {
	l := &Loader{
		repo:  r,
		cache: make(map[string]*jsonschema.Schema),
	}
	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func key(name, version string) string {
	return name + "@" + version
}

// Get returns the compiled schema for name and version.
func (l *Loader) Get(name, version string) (*jsonschema.Schema, bool) {
	l.mu.RLock()
	s, ok := l.cache[key(name, version)]
	l.mu.RUnlock()
	return s, ok
}

// Reload replaces the cache with every schema in the repository. The old
// cache stays in place if any schema fails to compile.
func (l *Loader) Reload(ctx context.Context) error {
	rows, err := l.repo.ListSchemas(ctx)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}

	next := make(map[string]*jsonschema.Schema, len(rows))
	for _, r := range rows {
		rs := &jsonschema.Schema{}
		if err := json.Unmarshal([]byte(r.SchemaJSON), rs); err != nil {
			return fmt.Errorf("compile schema %s %s: %w", r.Name, r.Version, err)
		}
		next[key(r.Name, r.Version)] = rs
	}

	l.mu.Lock()
	l.cache = next
	l.mu.Unlock()
	return nil
}

// Validate checks raw against the named schema. A nil slice means raw is
// valid.
func (l *Loader) Validate(ctx context.Context, name, version string, raw []byte) ([]Problem, error) {
	s, ok := l.Get(name, version)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, name, version)
	}
	kerrs, err := s.ValidateBytes(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}
	if len(kerrs) == 0 {
		return nil, nil
	}
	out := make([]Problem, 0, len(kerrs))
	for _, ke := range kerrs {
		out = append(out, Problem{Path: ke.PropertyPath, Message: ke.Message})
	}
	return out, nil
}
