// Package store holds the working set of projects: read-only seeds plus
// user imports, with imports persisted through a key/value collaborator.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"timeline/internal/domain"
)

// DefaultKey is the persistence key imported projects are saved under.
const DefaultKey = "timeline-imported-projects"

var ErrNotFound = errors.New("project not found")

// ConflictError is returned by Insert when the id is already taken.
type ConflictError struct {
	ID       string
	ReadOnly bool
}

func (e *ConflictError) Error() string {
	if e.ReadOnly {
		return fmt.Sprintf("project %q already exists as a built-in project; merge to override it", e.ID)
	}
	return fmt.Sprintf("project %q already exists; merge to replace it", e.ID)
}

// KV is durable storage for imported projects. Get returns nil, nil for a
// missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// SeedSource supplies the read-only projects.
type SeedSource interface {
	Seeds(ctx context.Context) ([]domain.ProjectData, error)
}

// SeedFunc adapts a function to SeedSource.
type SeedFunc func(ctx context.Context) ([]domain.ProjectData, error)

func (f SeedFunc) Seeds(ctx context.Context) ([]domain.ProjectData, error) { return f(ctx) }

type MergeOutcome string

const (
	MergeInserted MergeOutcome = "inserted"
	MergeReplaced MergeOutcome = "replaced"
	MergeShadowed MergeOutcome = "shadowed"
)

type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) {
		if key != "" {
			s.key = key
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

type Store struct {
	mu      sync.RWMutex
	source  SeedSource
	kv      KV
	key     string
	log     *slog.Logger
	seeds   []domain.ProjectData
	imports []domain.ProjectData
}

// New loads seeds and previously imported projects. A seed failure is
// returned; a persistence failure is logged and the store starts with no imports.
func New(ctx context.Context, seeds SeedSource, kv KV, opts ...Option) (*Store, error) {
	s := &Store{source: seeds, kv: kv, key: DefaultKey, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reseed(ctx); err != nil {
		return nil, err
	}
	s.load(ctx)
	return s, nil
}

// Reseed replaces the read-only projects with a fresh read of the seed source.
func (s *Store) Reseed(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	seeds, err := s.source.Seeds(ctx)
	if err != nil {
		return fmt.Errorf("load seed projects: %w", err)
	}
	s.mu.Lock()
	s.seeds = seeds
	s.mu.Unlock()
	return nil
}

func (s *Store) load(ctx context.Context) {
	if s.kv == nil {
		return
	}
	raw, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.log.Warn("load imported projects", "key", s.key, "error", err)
		return
	}
	if len(raw) == 0 {
		return
	}
	var imports []domain.ProjectData
	if err := json.Unmarshal(raw, &imports); err != nil {
		s.log.Warn("decode imported projects", "key", s.key, "error", err)
		return
	}
	s.imports = imports
}

// save must be called with s.mu held.
func (s *Store) save(ctx context.Context) {
	if s.kv == nil {
		return
	}
	imports := s.imports
	if imports == nil {
		imports = []domain.ProjectData{}
	}
	raw, err := json.Marshal(imports)
	if err != nil {
		s.log.Warn("encode imported projects", "key", s.key, "error", err)
		return
	}
	if err := s.kv.Set(ctx, s.key, raw); err != nil {
		s.log.Warn("save imported projects", "key", s.key, "error", err)
	}
}

func indexOf(list []domain.ProjectData, id string) int {
	for i, p := range list {
		if p.Project.ID == id {
			return i
		}
	}
	return -1
}

// Insert adds a new project. Any existing project with the same id, built-in
// or imported, is a *ConflictError.
func (s *Store) Insert(ctx context.Context, p domain.ProjectData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := p.Project.ID
	if indexOf(s.imports, id) >= 0 {
		return &ConflictError{ID: id}
	}
	if indexOf(s.seeds, id) >= 0 {
		return &ConflictError{ID: id, ReadOnly: true}
	}
	s.imports = append(s.imports, p)
	s.save(ctx)
	return nil
}

// Merge replaces an imported project wholesale or, for a built-in id, adds an
// imported copy that takes precedence on reads. Seeds are never modified.
func (s *Store) Merge(ctx context.Context, p domain.ProjectData) MergeOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := p.Project.ID
	outcome := MergeInserted
	if i := indexOf(s.imports, id); i >= 0 {
		s.imports[i] = p
		outcome = MergeReplaced
	} else {
		if indexOf(s.seeds, id) >= 0 {
			outcome = MergeShadowed
		}
		s.imports = append(s.imports, p)
	}
	s.save(ctx)
	return outcome
}

// Remove deletes an imported project. Removing a built-in project is refused
// with a warning and reports success. Removing a shadowing import restores the
// built-in copy.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := indexOf(s.imports, id); i >= 0 {
		s.imports = append(s.imports[:i:i], s.imports[i+1:]...)
		s.save(ctx)
		return nil
	}
	if indexOf(s.seeds, id) >= 0 {
		s.log.Warn("cannot remove read-only project", "project_id", id)
		return nil
	}
	return ErrNotFound
}

// IsReadOnly reports whether id resolves to a built-in project that Remove would refuse.
func (s *Store) IsReadOnly(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.imports, id) < 0 && indexOf(s.seeds, id) >= 0
}

// IsImported reports whether id resolves to an imported project.
func (s *Store) IsImported(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.imports, id) >= 0
}

func (s *Store) FindByID(id string) (domain.ProjectData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOf(s.imports, id); i >= 0 {
		return s.imports[i], nil
	}
	if i := indexOf(s.seeds, id); i >= 0 {
		return s.seeds[i], nil
	}
	return domain.ProjectData{}, ErrNotFound
}

// All is List with no filter.
func (s *Store) All() []domain.ProjectData { return s.List(Filter{}) }

// Len counts visible projects; a shadowed seed counts once.
func (s *Store) Len() int { return len(s.All()) }

// List returns the visible projects matching f. Seeds come first in seed
// order, each replaced in place by its shadowing import if any, then the
// remaining imports in insertion order.
func (s *Store) List(f Filter) []domain.ProjectData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	shadowed := make(map[string]bool)
	out := make([]domain.ProjectData, 0, len(s.seeds)+len(s.imports))
	for _, seed := range s.seeds {
		p := seed
		if i := indexOf(s.imports, seed.Project.ID); i >= 0 {
			p = s.imports[i]
			shadowed[seed.Project.ID] = true
		}
		if f.Match(p.Project) {
			out = append(out, p)
		}
	}
	for _, p := range s.imports {
		if !shadowed[p.Project.ID] && f.Match(p.Project) {
			out = append(out, p)
		}
	}
	return out
}

// Filter is a conjunction of optional criteria. Empty or "all" matches anything.
type Filter struct {
	Status   string `json:"status,omitempty"`
	Priority string `json:"priority,omitempty"`
	Search   string `json:"search,omitempty"`
}

const MatchAll = "all"

func (f Filter) Match(p domain.Project) bool {
	if f.Status != "" && f.Status != MatchAll && string(p.Status) != f.Status {
		return false
	}
	if f.Priority != "" && f.Priority != MatchAll && string(p.Priority) != f.Priority {
		return false
	}
	if q := strings.ToLower(f.Search); q != "" {
		return strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Description), q)
	}
	return true
}
