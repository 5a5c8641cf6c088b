package session

import (
	"testing"
	"time"

	"github.com/pberezin/tutor/internal/model"
)

func resumeRecord(objectives ...*model.LearningObjective) *model.UserRecord {
	rec := model.NewUserRecord("alice", testClock)
	for _, obj := range objectives {
		rec.Objectives[obj.ID] = obj
	}
	return rec
}

func resumeObjective(id string, status model.ObjectiveStatus, updated time.Time) *model.LearningObjective {
	obj := testObjective("a", "b")
	obj.ID = id
	obj.Status = status
	obj.UpdatedAt = updated
	if status == model.ObjectiveCompleted {
		obj.Topics["a"] = &model.TopicProgress{Name: "a", Status: model.TopicMastered, MasteryLevel: 0.9}
		obj.Topics["b"] = &model.TopicProgress{Name: "b", Status: model.TopicSkipped}
		obj.CompletedAt = &updated
	}
	return obj
}

func TestResolveNewUser(t *testing.T) {
	target := Resolve(resumeRecord())
	if !target.NewUser {
		t.Error("NewUser = false, want true")
	}
	if target.ObjectiveID != "" {
		t.Errorf("ObjectiveID = %q, want empty", target.ObjectiveID)
	}
}

func TestResolveSingleOpenObjective(t *testing.T) {
	obj := resumeObjective("obj-1", model.ObjectiveInProgress, testClock)
	obj.Topics["a"] = &model.TopicProgress{Name: "a", Status: model.TopicMastered, MasteryLevel: 0.9}

	target := Resolve(resumeRecord(obj))
	if target.NewUser {
		t.Error("NewUser = true, want false")
	}
	if target.ObjectiveID != "obj-1" {
		t.Errorf("ObjectiveID = %q, want obj-1", target.ObjectiveID)
	}
	if target.NextTopic != "b" {
		t.Errorf("NextTopic = %q, want b (first non-terminal in plan order)", target.NextTopic)
	}
	if target.ReadOnly {
		t.Error("ReadOnly = true for open objective")
	}
}

func TestResolvePicksMostRecentlyUpdated(t *testing.T) {
	older := resumeObjective("obj-old", model.ObjectiveInProgress, testClock)
	newer := resumeObjective("obj-new", model.ObjectiveInProgress, testClock.Add(time.Hour))

	target := Resolve(resumeRecord(older, newer))
	if target.ObjectiveID != "obj-new" {
		t.Errorf("ObjectiveID = %q, want obj-new", target.ObjectiveID)
	}
	if len(target.Alternates) != 1 || target.Alternates[0] != "obj-old" {
		t.Errorf("Alternates = %v, want [obj-old]", target.Alternates)
	}
}

func TestResolveTieBreaksOnID(t *testing.T) {
	a := resumeObjective("obj-a", model.ObjectiveInProgress, testClock)
	b := resumeObjective("obj-b", model.ObjectiveInProgress, testClock)

	target := Resolve(resumeRecord(a, b))
	if target.ObjectiveID != "obj-a" {
		t.Errorf("ObjectiveID = %q, want obj-a", target.ObjectiveID)
	}
}

func TestResolveSkipsCompletedForOpen(t *testing.T) {
	done := resumeObjective("obj-done", model.ObjectiveCompleted, testClock.Add(time.Hour))
	open := resumeObjective("obj-open", model.ObjectivePlanned, testClock)

	target := Resolve(resumeRecord(done, open))
	if target.ObjectiveID != "obj-open" {
		t.Errorf("ObjectiveID = %q, want obj-open (completed is not resumable)", target.ObjectiveID)
	}
	if len(target.Alternates) != 0 {
		t.Errorf("Alternates = %v, want none", target.Alternates)
	}
}

func TestResolveAllCompletedIsReadOnly(t *testing.T) {
	first := resumeObjective("obj-1", model.ObjectiveCompleted, testClock)
	second := resumeObjective("obj-2", model.ObjectiveCompleted, testClock.Add(time.Hour))

	target := Resolve(resumeRecord(first, second))
	if !target.ReadOnly {
		t.Error("ReadOnly = false, want true")
	}
	if target.ObjectiveID != "obj-2" {
		t.Errorf("ObjectiveID = %q, want obj-2", target.ObjectiveID)
	}
	if target.NextTopic != "" {
		t.Errorf("NextTopic = %q, want empty for read-only resume", target.NextTopic)
	}
}
