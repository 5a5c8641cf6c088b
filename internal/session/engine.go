package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/pberezin/tutor/internal/model"
	"github.com/pberezin/tutor/internal/progress"
	"github.com/pberezin/tutor/internal/storage"
)

// Engine applies the adaptation policy to persisted user records. Every
// mutation goes through the store's load-modify-store cycle, so updates
// for one user never race each other.
type Engine struct {
	store  *progress.Store
	policy Policy
	now    func() time.Time
	newID  func() string
}

func NewEngine(store *progress.Store, policy Policy) *Engine {
	return &Engine{
		store:  store,
		policy: policy,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

func (e *Engine) Store() *progress.Store { return e.store }
func (e *Engine) Policy() Policy         { return e.policy }

func findObjective(rec *model.UserRecord, objectiveID string) (*model.LearningObjective, error) {
	obj, ok := rec.Objectives[objectiveID]
	if !ok {
		return nil, &storage.StorageError{Op: "objective " + objectiveID, Err: storage.ErrNotFound}
	}
	return obj, nil
}

// CreateObjective registers a new learning objective with its study
// plan. Plan topics start without progress; the objective starts in
// the planned state.
func (e *Engine) CreateObjective(userID, text string, plan []model.TopicPlan) (*model.LearningObjective, error) {
	if text == "" {
		return nil, transitionErr("objective_text", "objective text is empty")
	}
	if len(plan) == 0 {
		return nil, transitionErr("study_plan", "study plan is empty")
	}

	var created *model.LearningObjective
	_, err := e.store.UpdateUser(userID, func(rec *model.UserRecord) error {
		now := e.now()
		created = &model.LearningObjective{
			ID:            e.newID(),
			ObjectiveText: text,
			StudyPlan:     plan,
			Topics:        make(map[string]*model.TopicProgress),
			Status:        model.ObjectivePlanned,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		rec.Objectives[created.ID] = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Objective returns one objective of a user's record.
func (e *Engine) Objective(userID, objectiveID string) (*model.LearningObjective, error) {
	rec, err := e.store.LoadUserProgress(userID)
	if err != nil {
		return nil, err
	}
	return findObjective(rec, objectiveID)
}

// MarkLessonDelivered records a completed teaching pass for a topic.
func (e *Engine) MarkLessonDelivered(userID, objectiveID, topicName string) (*model.TopicProgress, error) {
	var tp *model.TopicProgress
	_, err := e.store.UpdateUser(userID, func(rec *model.UserRecord) error {
		obj, err := findObjective(rec, objectiveID)
		if err != nil {
			return err
		}
		if err := e.policy.ApplyLesson(obj, topicName, e.now()); err != nil {
			return err
		}
		tp = obj.Topics[topicName]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tp, nil
}

// RecordQuizAttempt appends an attempt, updates mastery and settles the
// topic and objective states.
func (e *Engine) RecordQuizAttempt(userID, objectiveID, topicName string, att model.QuizAttempt) (*model.TopicProgress, error) {
	var tp *model.TopicProgress
	_, err := e.store.UpdateUser(userID, func(rec *model.UserRecord) error {
		obj, err := findObjective(rec, objectiveID)
		if err != nil {
			return err
		}
		tp, err = e.policy.ApplyAttempt(obj, topicName, att, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}
	return tp, nil
}

// SkipTopic marks a topic skipped on explicit user request.
func (e *Engine) SkipTopic(userID, objectiveID, topicName string) (*model.LearningObjective, error) {
	var out *model.LearningObjective
	_, err := e.store.UpdateUser(userID, func(rec *model.UserRecord) error {
		obj, err := findObjective(rec, objectiveID)
		if err != nil {
			return err
		}
		if err := e.policy.ApplySkip(obj, topicName, e.now()); err != nil {
			return err
		}
		out = obj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Replan reorders the remaining study plan per the adaptation policy.
func (e *Engine) Replan(userID, objectiveID string) (*model.LearningObjective, error) {
	var out *model.LearningObjective
	_, err := e.store.UpdateUser(userID, func(rec *model.UserRecord) error {
		obj, err := findObjective(rec, objectiveID)
		if err != nil {
			return err
		}
		if err := e.policy.Replan(obj, e.now()); err != nil {
			return err
		}
		out = obj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReopenObjective returns a completed objective to active learning by
// resetting the named topics to not started. With no topics named,
// every skipped topic is reopened. Mastery levels survive the reset;
// review cycles start over.
func (e *Engine) ReopenObjective(userID, objectiveID string, topicNames []string) (*model.LearningObjective, error) {
	var out *model.LearningObjective
	_, err := e.store.UpdateUser(userID, func(rec *model.UserRecord) error {
		obj, err := findObjective(rec, objectiveID)
		if err != nil {
			return err
		}
		if obj.Status != model.ObjectiveCompleted {
			return transitionErr("reopen_transition", "objective %q is not completed", objectiveID)
		}

		names := topicNames
		if len(names) == 0 {
			for _, plan := range obj.StudyPlan {
				if obj.TopicStatusOf(plan.Name) == model.TopicSkipped {
					names = append(names, plan.Name)
				}
			}
		}
		if len(names) == 0 {
			return transitionErr("reopen_transition", "objective %q has no topics to reopen", objectiveID)
		}

		for _, name := range names {
			if obj.PlanEntry(name) == nil {
				return transitionErr("topic_in_plan", "topic %q is not part of objective %q", name, objectiveID)
			}
			tp := topicState(obj, name)
			tp.Status = model.TopicNotStarted
			tp.ReviewCycles = 0
			tp.LessonDeliveredAt = nil
		}

		obj.Status = model.ObjectiveInProgress
		obj.CompletedAt = nil
		obj.UpdatedAt = e.now()
		out = obj
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveResume loads the user's record and resolves the continuation
// point. New users get a target with NewUser set, never an error.
func (e *Engine) ResolveResume(userID string) (*model.ResumeTarget, error) {
	rec, err := e.store.LoadUserProgress(userID)
	if err != nil {
		return nil, err
	}
	return Resolve(rec), nil
}
