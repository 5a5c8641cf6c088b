package session

import (
	"fmt"
	"sort"
	"time"

	"github.com/pberezin/tutor/internal/model"
	"github.com/pberezin/tutor/internal/progress"
)

func transitionErr(rule, format string, args ...any) error {
	return &progress.ValidationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

// topicState fetches or creates the progress entry for a plan topic.
// The caller must have checked that the topic is part of the plan.
func topicState(obj *model.LearningObjective, name string) *model.TopicProgress {
	tp, ok := obj.Topics[name]
	if !ok {
		tp = &model.TopicProgress{Name: name, Status: model.TopicNotStarted}
		obj.Topics[name] = tp
	}
	return tp
}

// ApplyLesson records a delivered lesson for a topic. Valid from
// not_started (first pass), needs_review (remediation, counts a review
// cycle) and taught (re-delivery is idempotent).
func (p Policy) ApplyLesson(obj *model.LearningObjective, topicName string, now time.Time) error {
	if obj.PlanEntry(topicName) == nil {
		return transitionErr("topic_in_plan", "topic %q is not part of objective %q", topicName, obj.ID)
	}
	tp := topicState(obj, topicName)

	switch tp.Status {
	case model.TopicNotStarted, model.TopicTaught:
	case model.TopicNeedsReview:
		tp.ReviewCycles++
	default:
		return transitionErr("lesson_transition", "cannot teach topic %q in status %q", topicName, tp.Status)
	}

	tp.Status = model.TopicTaught
	tp.LessonDeliveredAt = &now
	if obj.Status == model.ObjectivePlanned {
		obj.Status = model.ObjectiveInProgress
	}
	obj.UpdatedAt = now
	return nil
}

// ApplyAttempt records a quiz attempt for a topic, folds its score
// into the mastery level and resolves the quizzed state: mastered when
// both the attempt score and the updated mastery reach the threshold,
// needs_review otherwise. Valid from taught, quizzed and mastered;
// a topic in needs_review must be re-taught first.
func (p Policy) ApplyAttempt(obj *model.LearningObjective, topicName string, att model.QuizAttempt, now time.Time) (*model.TopicProgress, error) {
	if obj.PlanEntry(topicName) == nil {
		return nil, transitionErr("topic_in_plan", "topic %q is not part of objective %q", topicName, obj.ID)
	}
	if att.Score < 0 || att.Score > 1 {
		return nil, transitionErr("score_range", "attempt score %v outside [0, 1]", att.Score)
	}
	tp := topicState(obj, topicName)

	switch tp.Status {
	case model.TopicTaught, model.TopicQuizzed, model.TopicMastered:
	case model.TopicNotStarted:
		return nil, transitionErr("attempt_transition", "topic %q has not been taught yet", topicName)
	case model.TopicNeedsReview:
		return nil, transitionErr("attempt_transition", "topic %q needs re-teaching before another quiz", topicName)
	default:
		return nil, transitionErr("attempt_transition", "cannot quiz topic %q in status %q", topicName, tp.Status)
	}

	if att.Timestamp.IsZero() {
		att.Timestamp = now
	}
	tp.QuizAttempts = append(tp.QuizAttempts, att)
	tp.MasteryLevel = p.UpdateMastery(tp.MasteryLevel, att.Score)
	tp.LastAssessedAt = &now

	if att.Score >= p.MasteryThreshold && tp.MasteryLevel >= p.MasteryThreshold {
		tp.Status = model.TopicMastered
	} else {
		tp.Status = model.TopicNeedsReview
	}

	p.recompute(obj, now)
	return tp, nil
}

// ApplySkip marks a topic skipped. Any non-terminal state may be
// skipped; skipping a mastered or already skipped topic is an error.
func (p Policy) ApplySkip(obj *model.LearningObjective, topicName string, now time.Time) error {
	if obj.PlanEntry(topicName) == nil {
		return transitionErr("topic_in_plan", "topic %q is not part of objective %q", topicName, obj.ID)
	}
	tp := topicState(obj, topicName)
	if tp.Status.Terminal() {
		return transitionErr("skip_transition", "topic %q is already %q", topicName, tp.Status)
	}
	tp.Status = model.TopicSkipped
	p.recompute(obj, now)
	return nil
}

// recompute settles the objective status after a topic change: completed
// exactly when every plan topic is terminal, in progress otherwise.
func (p Policy) recompute(obj *model.LearningObjective, now time.Time) {
	obj.UpdatedAt = now

	for _, plan := range obj.StudyPlan {
		if !obj.TopicStatusOf(plan.Name).Terminal() {
			if obj.Status == model.ObjectiveCompleted {
				obj.Status = model.ObjectiveInProgress
				obj.CompletedAt = nil
			}
			return
		}
	}
	if obj.Status != model.ObjectiveCompleted {
		obj.Status = model.ObjectiveCompleted
		t := now
		obj.CompletedAt = &t
	}
}

// Replan revises the remaining teaching order. Topics that exhausted
// their review cycles without mastery are skipped; the rest of the
// pending topics are reordered so needs_review comes first, then lower
// mastery, keeping the original order as the final tie-break. Terminal
// topics stay in place ahead of the pending ones.
func (p Policy) Replan(obj *model.LearningObjective, now time.Time) error {
	if obj.Status == model.ObjectiveCompleted {
		return transitionErr("replan_transition", "objective %q is already completed", obj.ID)
	}

	for _, plan := range obj.StudyPlan {
		tp, ok := obj.Topics[plan.Name]
		if !ok {
			continue
		}
		if tp.Status == model.TopicNeedsReview && tp.ReviewCycles >= p.MaxReviewCycles {
			tp.Status = model.TopicSkipped
		}
	}

	type ranked struct {
		plan model.TopicPlan
		pos  int
	}
	var done, pending []ranked
	for i, plan := range obj.StudyPlan {
		r := ranked{plan: plan, pos: i}
		if obj.TopicStatusOf(plan.Name).Terminal() {
			done = append(done, r)
		} else {
			pending = append(pending, r)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		aReview := obj.TopicStatusOf(a.plan.Name) == model.TopicNeedsReview
		bReview := obj.TopicStatusOf(b.plan.Name) == model.TopicNeedsReview
		if aReview != bReview {
			return aReview
		}
		am, bm := topicMastery(obj, a.plan.Name), topicMastery(obj, b.plan.Name)
		if am != bm {
			return am < bm
		}
		return a.pos < b.pos
	})

	plan := make([]model.TopicPlan, 0, len(obj.StudyPlan))
	for _, r := range done {
		plan = append(plan, r.plan)
	}
	for _, r := range pending {
		plan = append(plan, r.plan)
	}
	obj.StudyPlan = plan

	p.recompute(obj, now)
	return nil
}

func topicMastery(obj *model.LearningObjective, name string) float64 {
	if tp, ok := obj.Topics[name]; ok {
		return tp.MasteryLevel
	}
	return 0
}
