// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-pipeline/config"
	"github.com/d60-Lab/timeline-pipeline/internal/model"
	"github.com/d60-Lab/timeline-pipeline/internal/notify"
	"github.com/d60-Lab/timeline-pipeline/pkg/database"
)

// Epoch is the base timestamp fixtures are built from.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// OpenDB returns a migrated in-memory sqlite handle closed with the test.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// Status builds a tweet by userID created sec seconds after Epoch.
func Status(id, userID int64, sec int) *model.Status {
	return &model.Status{
		ID:        id,
		UserID:    userID,
		User:      &model.User{ID: userID, ScreenName: screenName(userID)},
		Text:      "status",
		CreatedAt: Epoch.Add(time.Duration(sec) * time.Second),
	}
}

// Retweet builds a retweet of original by userID.
func Retweet(id, userID int64, sec int, original *model.Status) *model.Status {
	s := Status(id, userID, sec)
	s.Text = "RT " + original.Text
	return s.WithRetweetOf(original)
}

func screenName(id int64) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	if id < 0 {
		id = -id
	}
	return "user_" + string(letters[id%26])
}

// Sink records every reported failure.
type Sink struct {
	mu       sync.Mutex
	failures []notify.Failure
}

func (s *Sink) Report(_ context.Context, f notify.Failure) {
	s.mu.Lock()
	s.failures = append(s.failures, f)
	s.mu.Unlock()
}

func (s *Sink) Failures() []notify.Failure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Failure(nil), s.failures...)
}

// Recorder collects notifications delivered to a broadcast subscriber.
type Recorder struct {
	mu    sync.Mutex
	items []model.StatusNotification
}

func (r *Recorder) Record(n model.StatusNotification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

func (r *Recorder) Items() []model.StatusNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.StatusNotification(nil), r.items...)
}

// Count returns how many notifications of kind were recorded for id.
func (r *Recorder) Count(kind model.NotificationKind, id int64) int {
	n := 0
	for _, it := range r.Items() {
		if it.Kind == kind && it.ID == id {
			n++
		}
	}
	return n
}
