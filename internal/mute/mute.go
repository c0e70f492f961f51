// Package mute holds the user's mute settings and announces changes to them.
package mute

import (
	"sync"

	"github.com/d60-Lab/timeline-pipeline/config"
	"github.com/d60-Lab/timeline-pipeline/internal/event"
	"github.com/d60-Lab/timeline-pipeline/internal/predicate"
)

// Settings 静音设置
type Settings struct {
	Keywords []string `json:"keywords"`
	UserIDs  []int64  `json:"user_ids"`
	Sources  []string `json:"sources"`
	// MuteRetweets also hides retweets of muted users' statuses.
	MuteRetweets bool `json:"mute_retweets"`
}

// FromConfig builds the initial settings from the mute config section.
func FromConfig(c config.MuteConfig) Settings {
	return Settings{
		Keywords:     append([]string(nil), c.Keywords...),
		UserIDs:      append([]int64(nil), c.UserIDs...),
		Sources:      append([]string(nil), c.Sources...),
		MuteRetweets: c.MuteRetweets,
	}
}

// Empty reports whether nothing is muted.
func (s Settings) Empty() bool {
	return len(s.Keywords) == 0 && len(s.UserIDs) == 0 && len(s.Sources) == 0
}

// Compile returns the "is muted" predicate. Empty settings compile to False.
func (s Settings) Compile() (predicate.Expr, error) {
	if s.Empty() {
		return predicate.False, nil
	}
	return predicate.Rule{
		Keywords: s.Keywords,
		UserIDs:  s.UserIDs,
		Sources:  s.Sources,
		Retweets: s.MuteRetweets,
	}.Compile()
}

// Store is the process-wide mute settings provider.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	changed  *event.Bus[Settings]
}

func NewStore(initial Settings) *Store {
	return &Store{settings: initial, changed: event.NewBus[Settings]()}
}

func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update validates and replaces the settings, then notifies subscribers.
func (s *Store) Update(next Settings) error {
	if _, err := next.Compile(); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings = next
	s.mu.Unlock()
	s.changed.Publish(next)
	return nil
}

// Subscribe registers fn for settings changes.
func (s *Store) Subscribe(fn func(Settings)) event.Subscription {
	return s.changed.Subscribe(fn)
}
