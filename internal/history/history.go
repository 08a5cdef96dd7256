// Package history records application runs so finished jobs are not applied
// to twice.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/auto-applier/internal/storage"
)

// StateSubmitted marks a run whose form was submitted.
const StateSubmitted = "submitted"

// Entry is one recorded run.
type Entry struct {
	ID           string
	URL          string
	Resume       string
	State        string
	Result       string
	FitReasoning string
	CreatedAt    time.Time
}

type applicationStore interface {
	InsertApplication(ctx context.Context, a *storage.Application) error
	LatestApplication(ctx context.Context, url, state string) (*storage.Application, error)
	ListApplications(ctx context.Context, limit int) ([]*storage.Application, error)
}

// Store reads and writes entries.
type Store struct {
	db applicationStore
}

func New(db applicationStore) *Store {
	return &Store{db: db}
}

// Record stores e, assigning an id and timestamp when missing.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return s.db.InsertApplication(ctx, &storage.Application{
		ID:           e.ID,
		URL:          e.URL,
		Resume:       e.Resume,
		State:        e.State,
		Result:       e.Result,
		FitReasoning: e.FitReasoning,
		CreatedAt:    e.CreatedAt,
	})
}

// AlreadySubmitted reports whether any earlier run for url was submitted.
func (s *Store) AlreadySubmitted(ctx context.Context, url string) (bool, error) {
	_, err := s.db.LatestApplication(ctx, url, StateSubmitted)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	apps, err := s.db.ListApplications(ctx, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(apps))
	for _, a := range apps {
		entries = append(entries, Entry{
			ID:           a.ID,
			URL:          a.URL,
			Resume:       a.Resume,
			State:        a.State,
			Result:       a.Result,
			FitReasoning: a.FitReasoning,
			CreatedAt:    a.CreatedAt,
		})
	}
	return entries, nil
}
