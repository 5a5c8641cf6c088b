package progress

import (
	"fmt"

	"github.com/pberezin/tutor/internal/model"
)

// ValidationError reports an invariant violated by a record or an
// attempted update. The write is rejected and stored state is left
// unchanged.
type ValidationError struct {
	Rule   string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Rule, e.Detail)
}

func invalid(rule, format string, args ...any) *ValidationError {
	return &ValidationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

var validObjectiveStatus = map[model.ObjectiveStatus]bool{
	model.ObjectivePlanned:    true,
	model.ObjectiveInProgress: true,
	model.ObjectiveCompleted:  true,
}

var validTopicStatus = map[model.TopicStatus]bool{
	model.TopicNotStarted:  true,
	model.TopicTaught:      true,
	model.TopicQuizzed:     true,
	model.TopicMastered:    true,
	model.TopicNeedsReview: true,
	model.TopicSkipped:     true,
}

// Validate checks every invariant of a user record before it is
// persisted.
func Validate(rec *model.UserRecord) error {
	if rec.UserID == "" {
		return invalid("user_id", "user id is empty")
	}
	for id, obj := range rec.Objectives {
		if err := validateObjective(id, obj); err != nil {
			return err
		}
	}
	return nil
}

func validateObjective(id string, obj *model.LearningObjective) error {
	if obj.ID != id {
		return invalid("objective_id", "objective %q stored under key %q", obj.ID, id)
	}
	if obj.ObjectiveText == "" {
		return invalid("objective_text", "objective %q has no objective text", id)
	}
	if !validObjectiveStatus[obj.Status] {
		return invalid("objective_status", "objective %q has unknown status %q", id, obj.Status)
	}
	if len(obj.StudyPlan) == 0 {
		return invalid("study_plan", "objective %q has an empty study plan", id)
	}

	planNames := make(map[string]bool, len(obj.StudyPlan))
	for _, tp := range obj.StudyPlan {
		if tp.Name == "" {
			return invalid("study_plan", "objective %q has a plan entry with no name", id)
		}
		if planNames[tp.Name] {
			return invalid("study_plan", "objective %q lists topic %q twice", id, tp.Name)
		}
		planNames[tp.Name] = true
	}

	for name, tp := range obj.Topics {
		if !planNames[name] {
			return invalid("topic_in_plan", "objective %q tracks topic %q absent from the study plan", id, name)
		}
		if tp.Name != name {
			return invalid("topic_name", "topic %q stored under key %q", tp.Name, name)
		}
		if err := validateTopic(tp); err != nil {
			return err
		}
	}

	// status is completed exactly when every plan topic is mastered or
	// skipped; topics without progress count as not started.
	done := true
	for _, tp := range obj.StudyPlan {
		if !obj.TopicStatusOf(tp.Name).Terminal() {
			done = false
			break
		}
	}
	if done && obj.Status != model.ObjectiveCompleted {
		return invalid("objective_completed", "objective %q has all topics terminal but status %q", id, obj.Status)
	}
	if !done && obj.Status == model.ObjectiveCompleted {
		return invalid("objective_completed", "objective %q is completed but has unfinished topics", id)
	}
	return nil
}

func validateTopic(tp *model.TopicProgress) error {
	if !validTopicStatus[tp.Status] {
		return invalid("topic_status", "topic %q has unknown status %q", tp.Name, tp.Status)
	}
	if tp.MasteryLevel < 0 || tp.MasteryLevel > 1 {
		return invalid("mastery_range", "topic %q mastery %v outside [0, 1]", tp.Name, tp.MasteryLevel)
	}
	if tp.ReviewCycles < 0 {
		return invalid("review_cycles", "topic %q has negative review cycles", tp.Name)
	}
	for i, att := range tp.QuizAttempts {
		if att.Score < 0 || att.Score > 1 {
			return invalid("score_range", "topic %q attempt %d score %v outside [0, 1]", tp.Name, i, att.Score)
		}
	}
	return nil
}
