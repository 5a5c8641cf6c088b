// Package tutor orchestrates the tutoring workflow: planning an
// objective, teaching its topics, quizzing them and recording the
// results through the session engine.
package tutor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pberezin/tutor/internal/llm"
	"github.com/pberezin/tutor/internal/model"
	"github.com/pberezin/tutor/internal/progress"
	"github.com/pberezin/tutor/internal/session"
)

// Generator produces the LLM-backed artifacts of a tutoring session.
type Generator interface {
	GeneratePlan(ctx context.Context, objective string, topicCount int) ([]model.TopicPlan, error)
	GenerateLesson(ctx context.Context, objective string, topic model.TopicPlan, mastery float64, review bool) (*llm.Lesson, error)
	GenerateQuiz(ctx context.Context, objective string, topic model.TopicPlan, questionCount int) ([]model.QuizQuestion, error)
	EvaluateQuiz(ctx context.Context, topicName string, questions []model.QuizQuestion) (*llm.EvalResult, error)
}

var _ Generator = (*llm.Client)(nil)

// Options bound the generated artifacts.
type Options struct {
	TopicCount    int
	QuestionCount int
}

// DefaultOptions returns the stock generation bounds.
func DefaultOptions() Options {
	return Options{TopicCount: 5, QuestionCount: 4}
}

// Service is the application-level façade over the engine and the
// generator.
type Service struct {
	engine *session.Engine
	gen    Generator
	opts   Options
}

func NewService(engine *session.Engine, gen Generator, opts Options) *Service {
	if opts.TopicCount <= 0 {
		opts.TopicCount = DefaultOptions().TopicCount
	}
	if opts.QuestionCount <= 0 {
		opts.QuestionCount = DefaultOptions().QuestionCount
	}
	return &Service{engine: engine, gen: gen, opts: opts}
}

func (s *Service) Engine() *session.Engine { return s.engine }

// StartObjective plans a new learning objective and persists it.
func (s *Service) StartObjective(ctx context.Context, userID, objectiveText string) (*model.LearningObjective, error) {
	plan, err := s.gen.GeneratePlan(ctx, objectiveText, s.opts.TopicCount)
	if err != nil {
		return nil, err
	}
	obj, err := s.engine.CreateObjective(userID, objectiveText, plan)
	if err != nil {
		return nil, err
	}
	slog.Info("objective planned", "user", userID, "objective", obj.ID, "topics", len(plan))
	return obj, nil
}

// TeachTopic generates a lesson for a plan topic and records the
// teaching pass. Topics in needs_review get a remediation lesson.
func (s *Service) TeachTopic(ctx context.Context, userID, objectiveID, topicName string) (*llm.Lesson, error) {
	obj, err := s.engine.Objective(userID, objectiveID)
	if err != nil {
		return nil, err
	}
	plan := obj.PlanEntry(topicName)
	if plan == nil {
		return nil, &progress.ValidationError{
			Rule:   "topic_in_plan",
			Detail: fmt.Sprintf("topic %q is not part of objective %q", topicName, objectiveID),
		}
	}

	var mastery float64
	review := obj.TopicStatusOf(topicName) == model.TopicNeedsReview
	if tp, ok := obj.Topics[topicName]; ok {
		mastery = tp.MasteryLevel
	}

	lesson, err := s.gen.GenerateLesson(ctx, obj.ObjectiveText, *plan, mastery, review)
	if err != nil {
		return nil, err
	}
	if _, err := s.engine.MarkLessonDelivered(userID, objectiveID, topicName); err != nil {
		return nil, err
	}
	return lesson, nil
}

// BuildQuiz generates a quiz for a taught topic. Nothing is persisted
// until the answers come back through SubmitQuiz.
func (s *Service) BuildQuiz(ctx context.Context, userID, objectiveID, topicName string) ([]model.QuizQuestion, error) {
	obj, err := s.engine.Objective(userID, objectiveID)
	if err != nil {
		return nil, err
	}
	plan := obj.PlanEntry(topicName)
	if plan == nil {
		return nil, &progress.ValidationError{
			Rule:   "topic_in_plan",
			Detail: fmt.Sprintf("topic %q is not part of objective %q", topicName, objectiveID),
		}
	}
	if status := obj.TopicStatusOf(topicName); status != model.TopicTaught && status != model.TopicQuizzed {
		return nil, &progress.ValidationError{
			Rule:   "quiz_transition",
			Detail: fmt.Sprintf("topic %q is %q, teach it before quizzing", topicName, status),
		}
	}
	return s.gen.GenerateQuiz(ctx, obj.ObjectiveText, *plan, s.opts.QuestionCount)
}

// SubmitQuiz grades the user's answers and records the attempt. The
// questions must carry their UserAnswer fields.
func (s *Service) SubmitQuiz(ctx context.Context, userID, objectiveID, topicName string, questions []model.QuizQuestion) (*model.TopicProgress, *llm.EvalResult, error) {
	if len(questions) == 0 {
		return nil, nil, &progress.ValidationError{Rule: "quiz_answers", Detail: "no answers submitted"}
	}

	eval, err := s.gen.EvaluateQuiz(ctx, topicName, questions)
	if err != nil {
		return nil, nil, err
	}
	for i := range questions {
		if i < len(eval.Results) {
			questions[i].Correct = eval.Results[i].Correct
		}
	}

	tp, err := s.engine.RecordQuizAttempt(userID, objectiveID, topicName, model.QuizAttempt{
		Questions:       questions,
		Score:           eval.Score,
		FeedbackSummary: eval.Feedback,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("quiz recorded", "user", userID, "objective", objectiveID,
		"topic", topicName, "score", eval.Score, "status", tp.Status)
	return tp, eval, nil
}
