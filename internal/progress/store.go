// Package progress is the hierarchical data-access layer over a
// storage backend. It validates record invariants before every write
// and serializes all mutations for a single user, so a concurrent
// read-modify-write can never drop a sibling topic update.
package progress

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pberezin/tutor/internal/model"
	"github.com/pberezin/tutor/internal/storage"
)

// Store wraps a Backend with validation, per-user locking and the
// projection queries. It is the sole writer of user records.
type Store struct {
	backend storage.Backend

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewStore creates a progress store over the given backend.
func NewStore(backend storage.Backend) *Store {
	return &Store{
		backend: backend,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

func (s *Store) Close() error { return s.backend.Close() }

// userLock returns the mutex serializing updates for one user.
// Locks for distinct users are independent.
func (s *Store) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// LoadUserProgress returns the user's full record. First-time users
// get an empty default record, not an error.
func (s *Store) LoadUserProgress(userID string) (*model.UserRecord, error) {
	rec, err := s.backend.Get(userID)
	if err == storage.ErrNotFound {
		return model.NewUserRecord(userID, s.now()), nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveUserProgress validates the record and writes it atomically.
// On validation failure nothing is persisted.
func (s *Store) SaveUserProgress(userID string, rec *model.UserRecord) error {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	if rec.UserID != userID {
		return invalid("user_id", "record for %q saved under %q", rec.UserID, userID)
	}
	if err := Validate(rec); err != nil {
		return err
	}
	if err := s.backend.Put(userID, rec); err != nil {
		slog.Error("failed to persist user record", "user", userID, "error", err)
		return err
	}
	return nil
}

// UpdateUser performs a load-modify-store cycle under the user's lock.
// fn receives the current record (a default one for new users) and
// mutates it in place; the result is validated and written back
// all-or-nothing.
func (s *Store) UpdateUser(userID string, fn func(*model.UserRecord) error) (*model.UserRecord, error) {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()

	rec, err := s.backend.Get(userID)
	if err == storage.ErrNotFound {
		rec = model.NewUserRecord(userID, s.now())
	} else if err != nil {
		return nil, err
	}

	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = s.now()

	if err := Validate(rec); err != nil {
		return nil, err
	}
	if err := s.backend.Put(userID, rec); err != nil {
		slog.Error("failed to persist user record", "user", userID, "error", err)
		return nil, err
	}
	return rec, nil
}

// SaveTopicProgress replaces one topic's progress without touching its
// siblings. The objective must already exist and the topic must be
// part of its study plan.
func (s *Store) SaveTopicProgress(userID, objectiveID, topicName string, tp *model.TopicProgress) error {
	_, err := s.UpdateUser(userID, func(rec *model.UserRecord) error {
		obj, ok := rec.Objectives[objectiveID]
		if !ok {
			return fmt.Errorf("objective %q: %w", objectiveID, storage.ErrNotFound)
		}
		if obj.PlanEntry(topicName) == nil {
			return invalid("topic_in_plan", "topic %q is not part of objective %q", topicName, objectiveID)
		}
		if tp.Name != topicName {
			return invalid("topic_name", "progress for %q saved under topic %q", tp.Name, topicName)
		}
		obj.Topics[topicName] = tp
		obj.UpdatedAt = s.now()
		return nil
	})
	return err
}

// LearningHistory builds a read-only summary of every objective:
// status, mean mastery across plan topics (equal weights, missing
// progress counts as zero), completed vs total topic counts and quiz
// statistics. It never mutates stored state.
func (s *Store) LearningHistory(userID string) ([]model.ObjectiveSummary, error) {
	rec, err := s.LoadUserProgress(userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.ObjectiveSummary, 0, len(rec.Objectives))
	for _, obj := range rec.Objectives {
		sum := model.ObjectiveSummary{
			ObjectiveID:   obj.ID,
			ObjectiveText: obj.ObjectiveText,
			Status:        obj.Status,
			TotalTopics:   len(obj.StudyPlan),
			CreatedAt:     obj.CreatedAt,
			UpdatedAt:     obj.UpdatedAt,
			CompletedAt:   obj.CompletedAt,
		}

		var masterySum float64
		for _, plan := range obj.StudyPlan {
			if tp, ok := obj.Topics[plan.Name]; ok {
				masterySum += tp.MasteryLevel
				if tp.Status.Terminal() {
					sum.CompletedTopics++
				}
			}
		}
		if sum.TotalTopics > 0 {
			sum.AverageMastery = masterySum / float64(sum.TotalTopics)
		}

		var scoreSum float64
		for _, tp := range obj.Topics {
			for _, att := range tp.QuizAttempts {
				sum.QuizCount++
				scoreSum += att.Score
			}
		}
		if sum.QuizCount > 0 {
			sum.AverageScore = scoreSum / float64(sum.QuizCount)
		}

		summaries = append(summaries, sum)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
		}
		return summaries[i].ObjectiveID < summaries[j].ObjectiveID
	})
	return summaries, nil
}

// Users lists all known user IDs.
func (s *Store) Users() ([]string, error) {
	return s.backend.ListUsers()
}

// DeleteUser removes a user's record entirely.
func (s *Store) DeleteUser(userID string) error {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()
	return s.backend.Delete(userID)
}
