package session

import (
	"sort"

	"github.com/pberezin/tutor/internal/model"
)

// Resolve picks the continuation point for a returning user. The most
// recently updated non-completed objective wins; other resumable
// objectives are reported as alternates rather than discarded. When
// every objective is completed the most recent one is returned
// read-only for the history view. Ties on updated_at break on the
// objective ID so the choice is deterministic.
func Resolve(rec *model.UserRecord) *model.ResumeTarget {
	target := &model.ResumeTarget{UserID: rec.UserID}
	if len(rec.Objectives) == 0 {
		target.NewUser = true
		return target
	}

	objectives := make([]*model.LearningObjective, 0, len(rec.Objectives))
	for _, obj := range rec.Objectives {
		objectives = append(objectives, obj)
	}
	sort.Slice(objectives, func(i, j int) bool {
		a, b := objectives[i], objectives[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ID < b.ID
	})

	var open []*model.LearningObjective
	for _, obj := range objectives {
		if obj.Status != model.ObjectiveCompleted {
			open = append(open, obj)
		}
	}

	if len(open) == 0 {
		obj := objectives[0]
		target.ObjectiveID = obj.ID
		target.ObjectiveText = obj.ObjectiveText
		target.Status = obj.Status
		target.ReadOnly = true
		return target
	}

	obj := open[0]
	target.ObjectiveID = obj.ID
	target.ObjectiveText = obj.ObjectiveText
	target.Status = obj.Status
	target.NextTopic = nextTopic(obj)
	for _, alt := range open[1:] {
		target.Alternates = append(target.Alternates, alt.ID)
	}
	return target
}

// nextTopic returns the first plan topic still requiring work, in plan
// order.
func nextTopic(obj *model.LearningObjective) string {
	for _, plan := range obj.StudyPlan {
		if !obj.TopicStatusOf(plan.Name).Terminal() {
			return plan.Name
		}
	}
	return ""
}
