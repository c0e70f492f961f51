package timeline

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/d60-Lab/timeline-pipeline/internal/event"
	"github.com/d60-Lab/timeline-pipeline/internal/predicate"
	"github.com/d60-Lab/timeline-pipeline/internal/repository"
)

var (
	ErrNotFound    = errors.New("timeline not found")
	ErrUnknownKind = errors.New("unknown timeline kind")
	ErrNotFilter   = errors.New("timeline has no editable rule")
)

// SpecError is returned for a spec or rule the registry cannot build a timeline from.
type SpecError struct{ Err error }

func (e *SpecError) Error() string { return "invalid timeline spec: " + e.Err.Error() }

func (e *SpecError) Unwrap() error { return e.Err }

func invalid(err error) error { return &SpecError{Err: err} }

// Spec describes a timeline to create.
type Spec struct {
	// Kind is one of all, home, user, mentions, filter.
	Kind       string          `json:"kind"`
	AccountID  int64           `json:"account_id,omitempty"`
	UserID     int64           `json:"user_id,omitempty"`
	ScreenName string          `json:"screen_name,omitempty"`
	Rule       *predicate.Rule `json:"rule,omitempty"`
	AutoTrim   *bool           `json:"auto_trim,omitempty"`
}

type RegistryDeps struct {
	Statuses  repository.StatusStore
	Follows   repository.FollowRepository
	Oracle    Oracle
	Point     Publisher
	Relations *event.Bus[event.RelationChanged]
}

type entry struct {
	model *Model
	spec  Spec
	watch event.Subscription
}

// Registry 持有进程内全部活跃时间线
type Registry struct {
	deps RegistryDeps
	opts Options

	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry(deps RegistryDeps, opts Options) *Registry {
	return &Registry{deps: deps, opts: opts, entries: make(map[string]*entry)}
}

func (r *Registry) source(spec Spec) (Source, error) {
	d := r.deps
	switch spec.Kind {
	case "all":
		return NewAllSource(d.Statuses, d.Oracle), nil
	case "home":
		if spec.AccountID == 0 {
			return nil, invalid(errors.New("home timeline needs account_id"))
		}
		return NewHomeSource(spec.AccountID, d.Follows, d.Statuses, d.Oracle), nil
	case "user":
		if spec.UserID == 0 {
			return nil, invalid(errors.New("user timeline needs user_id"))
		}
		return NewUserSource(spec.UserID, d.Statuses, d.Oracle), nil
	case "mentions":
		if spec.ScreenName == "" {
			return nil, invalid(errors.New("mentions timeline needs screen_name"))
		}
		return NewMentionSource(spec.ScreenName, d.Statuses, d.Oracle), nil
	case "filter":
		if spec.Rule == nil {
			return nil, invalid(errors.New("filter timeline needs a rule"))
		}
		if _, err := spec.Rule.Compile(); err != nil {
			return nil, invalid(errors.Wrap(err, "compile rule"))
		}
		return NewFilterSource(*spec.Rule, d.Statuses, d.Oracle), nil
	default:
		return nil, invalid(errors.Wrapf(ErrUnknownKind, "%q", spec.Kind))
	}
}

// Create builds, activates and loads a timeline.
func (r *Registry) Create(ctx context.Context, spec Spec) (*Model, error) {
	src, err := r.source(spec)
	if err != nil {
		return nil, err
	}
	opts := r.opts
	if spec.AutoTrim != nil {
		opts.AutoTrim = *spec.AutoTrim
	}
	m := New(src, r.deps.Oracle, r.deps.Point, opts)
	if err := m.Activate(); err != nil {
		return nil, err
	}
	if err := m.InvalidateTimeline(ctx); err != nil {
		m.Dispose()
		return nil, err
	}

	e := &entry{model: m, spec: spec}
	if home, ok := src.(*HomeSource); ok && r.deps.Relations != nil {
		e.watch = home.Watch(r.deps.Relations, m.QueueInvalidateTimeline)
	}
	r.mu.Lock()
	r.entries[m.ID] = e
	r.mu.Unlock()
	return m, nil
}

func (r *Registry) Get(id string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.model, nil
}

// Spec returns the spec a timeline was created from.
func (r *Registry) Spec(id string) (Spec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Spec{}, ErrNotFound
	}
	return e.spec, nil
}

// List returns the timeline ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// UpdateRule swaps a filter timeline's rule and queues a debounced reload.
func (r *Registry) UpdateRule(id string, rule predicate.Rule) error {
	if _, err := rule.Compile(); err != nil {
		return invalid(errors.Wrap(err, "compile rule"))
	}
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	fs, ok := e.model.Source().(*FilterSource)
	if !ok {
		r.mu.Unlock()
		return ErrNotFilter
	}
	e.spec.Rule = &rule
	fs.SetRule(rule)
	r.mu.Unlock()

	e.model.QueueInvalidateTimeline()
	return nil
}

// Remove disposes the timeline.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.dispose()
	return nil
}

// Close disposes every timeline.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()
	for _, e := range entries {
		e.dispose()
	}
}

func (e *entry) dispose() {
	if e.watch != nil {
		e.watch.Unsubscribe()
	}
	e.model.Dispose()
}
