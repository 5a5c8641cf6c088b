package tutor

import (
	"context"
	"errors"
	"testing"

	"github.com/pberezin/tutor/internal/llm"
	"github.com/pberezin/tutor/internal/model"
	"github.com/pberezin/tutor/internal/progress"
	"github.com/pberezin/tutor/internal/session"
	"github.com/pberezin/tutor/internal/storage"
)

// fakeGenerator returns canned artifacts and records what was asked.
type fakeGenerator struct {
	plan        []model.TopicPlan
	lessonCalls []bool // review flag per call
	evalScore   float64
}

func (f *fakeGenerator) GeneratePlan(_ context.Context, objective string, topicCount int) ([]model.TopicPlan, error) {
	if f.plan == nil {
		return nil, errors.New("no plan configured")
	}
	return f.plan, nil
}

func (f *fakeGenerator) GenerateLesson(_ context.Context, _ string, topic model.TopicPlan, _ float64, review bool) (*llm.Lesson, error) {
	f.lessonCalls = append(f.lessonCalls, review)
	return &llm.Lesson{Text: "lesson on " + topic.Name, KeyPoints: []string{"one"}}, nil
}

func (f *fakeGenerator) GenerateQuiz(_ context.Context, _ string, topic model.TopicPlan, questionCount int) ([]model.QuizQuestion, error) {
	questions := make([]model.QuizQuestion, questionCount)
	for i := range questions {
		questions[i] = model.QuizQuestion{Text: topic.Name, Options: []string{"a", "b"}, Answer: "a"}
	}
	return questions, nil
}

func (f *fakeGenerator) EvaluateQuiz(_ context.Context, _ string, questions []model.QuizQuestion) (*llm.EvalResult, error) {
	results := make([]llm.QuestionResult, len(questions))
	for i := range results {
		results[i] = llm.QuestionResult{Correct: f.evalScore >= 0.5}
	}
	return &llm.EvalResult{Score: f.evalScore, Feedback: "keep going", Results: results}, nil
}

func newTestService(t *testing.T, gen *fakeGenerator) *Service {
	t.Helper()
	backend, err := storage.NewDocumentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDocumentStore: %v", err)
	}
	store := progress.NewStore(backend)
	t.Cleanup(func() { store.Close() })
	return NewService(session.NewEngine(store, session.DefaultPolicy()), gen, Options{TopicCount: 3, QuestionCount: 2})
}

func defaultPlan() []model.TopicPlan {
	return []model.TopicPlan{
		{Name: "basics", Description: "language basics", Priority: 1},
		{Name: "concurrency", Description: "goroutines and channels", Priority: 2},
	}
}

func TestStartObjective(t *testing.T) {
	s := newTestService(t, &fakeGenerator{plan: defaultPlan()})

	obj, err := s.StartObjective(context.Background(), "alice", "Learn Go")
	if err != nil {
		t.Fatalf("StartObjective: %v", err)
	}
	if obj.Status != model.ObjectivePlanned {
		t.Errorf("status = %q, want planned", obj.Status)
	}
	if len(obj.StudyPlan) != 2 {
		t.Errorf("plan topics = %d, want 2", len(obj.StudyPlan))
	}
}

func TestStartObjectiveGeneratorFailure(t *testing.T) {
	s := newTestService(t, &fakeGenerator{})

	if _, err := s.StartObjective(context.Background(), "alice", "Learn Go"); err == nil {
		t.Error("expected error when plan generation fails")
	}
	// Nothing was persisted for the user.
	target, err := s.Engine().ResolveResume("alice")
	if err != nil {
		t.Fatalf("ResolveResume: %v", err)
	}
	if !target.NewUser {
		t.Error("failed planning left a record behind")
	}
}

func TestTeachTopicMarksTaught(t *testing.T) {
	gen := &fakeGenerator{plan: defaultPlan()}
	s := newTestService(t, gen)

	obj, err := s.StartObjective(context.Background(), "bob", "Learn Go")
	if err != nil {
		t.Fatalf("StartObjective: %v", err)
	}

	lesson, err := s.TeachTopic(context.Background(), "bob", obj.ID, "basics")
	if err != nil {
		t.Fatalf("TeachTopic: %v", err)
	}
	if lesson.Text != "lesson on basics" {
		t.Errorf("lesson = %q", lesson.Text)
	}
	if len(gen.lessonCalls) != 1 || gen.lessonCalls[0] {
		t.Errorf("first pass should not be a review lesson: %v", gen.lessonCalls)
	}

	got, err := s.Engine().Objective("bob", obj.ID)
	if err != nil {
		t.Fatalf("Objective: %v", err)
	}
	if got.TopicStatusOf("basics") != model.TopicTaught {
		t.Errorf("topic status = %q, want taught", got.TopicStatusOf("basics"))
	}
}

func TestTeachTopicUnknownTopic(t *testing.T) {
	s := newTestService(t, &fakeGenerator{plan: defaultPlan()})

	obj, err := s.StartObjective(context.Background(), "carol", "Learn Go")
	if err != nil {
		t.Fatalf("StartObjective: %v", err)
	}

	var ve *progress.ValidationError
	if _, err := s.TeachTopic(context.Background(), "carol", obj.ID, "ghost"); !errors.As(err, &ve) {
		t.Errorf("TeachTopic = %v, want ValidationError", err)
	}
}

func TestBuildQuizRequiresTaughtTopic(t *testing.T) {
	s := newTestService(t, &fakeGenerator{plan: defaultPlan()})

	obj, err := s.StartObjective(context.Background(), "dave", "Learn Go")
	if err != nil {
		t.Fatalf("StartObjective: %v", err)
	}

	var ve *progress.ValidationError
	if _, err := s.BuildQuiz(context.Background(), "dave", obj.ID, "basics"); !errors.As(err, &ve) {
		t.Fatalf("BuildQuiz before teaching = %v, want ValidationError", err)
	}

	if _, err := s.TeachTopic(context.Background(), "dave", obj.ID, "basics"); err != nil {
		t.Fatalf("TeachTopic: %v", err)
	}
	questions, err := s.BuildQuiz(context.Background(), "dave", obj.ID, "basics")
	if err != nil {
		t.Fatalf("BuildQuiz: %v", err)
	}
	if len(questions) != 2 {
		t.Errorf("questions = %d, want 2", len(questions))
	}
}

func TestSubmitQuizFullFlow(t *testing.T) {
	gen := &fakeGenerator{plan: defaultPlan(), evalScore: 0.5}
	s := newTestService(t, gen)
	ctx := context.Background()

	obj, err := s.StartObjective(ctx, "erin", "Learn Go")
	if err != nil {
		t.Fatalf("StartObjective: %v", err)
	}
	if _, err := s.TeachTopic(ctx, "erin", obj.ID, "basics"); err != nil {
		t.Fatalf("TeachTopic: %v", err)
	}
	questions, err := s.BuildQuiz(ctx, "erin", obj.ID, "basics")
	if err != nil {
		t.Fatalf("BuildQuiz: %v", err)
	}
	for i := range questions {
		questions[i].UserAnswer = "a"
	}

	tp, eval, err := s.SubmitQuiz(ctx, "erin", obj.ID, "basics", questions)
	if err != nil {
		t.Fatalf("SubmitQuiz: %v", err)
	}
	if eval.Score != 0.5 {
		t.Errorf("score = %v, want 0.5", eval.Score)
	}
	if tp.Status != model.TopicNeedsReview {
		t.Errorf("topic status = %q, want needs_review", tp.Status)
	}
	if len(tp.QuizAttempts) != 1 || len(tp.QuizAttempts[0].Questions) != 2 {
		t.Fatalf("attempt not recorded: %+v", tp.QuizAttempts)
	}

	// The remediation lesson is flagged as a review pass.
	if _, err := s.TeachTopic(ctx, "erin", obj.ID, "basics"); err != nil {
		t.Fatalf("TeachTopic (review): %v", err)
	}
	if n := len(gen.lessonCalls); n != 2 || !gen.lessonCalls[1] {
		t.Errorf("lesson calls = %v, want second call flagged as review", gen.lessonCalls)
	}
}

func TestSubmitQuizEmptyAnswers(t *testing.T) {
	s := newTestService(t, &fakeGenerator{plan: defaultPlan()})

	var ve *progress.ValidationError
	if _, _, err := s.SubmitQuiz(context.Background(), "frank", "obj", "basics", nil); !errors.As(err, &ve) {
		t.Errorf("SubmitQuiz = %v, want ValidationError", err)
	}
}
