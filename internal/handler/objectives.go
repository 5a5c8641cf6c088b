package handler

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/pberezin/tutor/internal/model"
	"github.com/pberezin/tutor/internal/progress"
)

type createObjectiveRequest struct {
	ObjectiveText string `json:"objective_text"`
}

func (h *Handler) handleCreateObjective(w http.ResponseWriter, r *http.Request) {
	var req createObjectiveRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ObjectiveText == "" {
		http.Error(w, "objective_text is required", http.StatusBadRequest)
		return
	}

	obj, err := h.svc.StartObjective(r.Context(), chi.URLParam(r, "userID"), req.ObjectiveText)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, obj)
}

func (h *Handler) handleLesson(w http.ResponseWriter, r *http.Request) {
	lesson, err := h.svc.TeachTopic(r.Context(),
		chi.URLParam(r, "userID"), chi.URLParam(r, "objectiveID"), chi.URLParam(r, "topic"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, lesson)
}

// quizStore holds generated quizzes awaiting answers, keyed by
// user/objective/topic. The answer key never leaves the server.
type quizStore struct {
	mu      sync.Mutex
	pending map[string][]model.QuizQuestion
}

func newQuizStore() *quizStore {
	return &quizStore{pending: make(map[string][]model.QuizQuestion)}
}

func quizKey(userID, objectiveID, topicName string) string {
	return userID + "\x00" + objectiveID + "\x00" + topicName
}

func (s *quizStore) put(key string, questions []model.QuizQuestion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[key] = questions
}

func (s *quizStore) take(key string) ([]model.QuizQuestion, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	questions, ok := s.pending[key]
	delete(s.pending, key)
	return questions, ok
}

// handleQuiz generates a quiz and returns it with the correct answers
// stripped; the answer key is kept server-side until the answers come
// back through handleAttempt.
func (h *Handler) handleQuiz(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	objectiveID := chi.URLParam(r, "objectiveID")
	topicName := chi.URLParam(r, "topic")

	questions, err := h.svc.BuildQuiz(r.Context(), userID, objectiveID, topicName)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.quizzes.put(quizKey(userID, objectiveID, topicName), questions)

	type clientQuestion struct {
		Text    string   `json:"text"`
		Options []string `json:"options,omitempty"`
	}
	visible := make([]clientQuestion, len(questions))
	for i, q := range questions {
		visible[i] = clientQuestion{Text: q.Text, Options: q.Options}
	}
	respondJSON(w, http.StatusOK, map[string]any{"questions": visible})
}

type attemptRequest struct {
	Answers []string `json:"answers"`
}

func (h *Handler) handleAttempt(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	objectiveID := chi.URLParam(r, "objectiveID")
	topicName := chi.URLParam(r, "topic")

	var req attemptRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	questions, ok := h.quizzes.take(quizKey(userID, objectiveID, topicName))
	if !ok {
		h.respondError(w, r, &progress.ValidationError{
			Rule:   "quiz_pending",
			Detail: fmt.Sprintf("no pending quiz for topic %q, request one first", topicName),
		})
		return
	}
	if len(req.Answers) != len(questions) {
		h.respondError(w, r, &progress.ValidationError{
			Rule:   "quiz_answers",
			Detail: fmt.Sprintf("got %d answers for %d questions", len(req.Answers), len(questions)),
		})
		return
	}
	for i := range questions {
		questions[i].UserAnswer = req.Answers[i]
	}

	tp, eval, err := h.svc.SubmitQuiz(r.Context(), userID, objectiveID, topicName, questions)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"topic":    tp,
		"score":    eval.Score,
		"feedback": eval.Feedback,
		"results":  eval.Results,
	})
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	obj, err := h.svc.Engine().SkipTopic(
		chi.URLParam(r, "userID"), chi.URLParam(r, "objectiveID"), chi.URLParam(r, "topic"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, obj)
}

func (h *Handler) handleReplan(w http.ResponseWriter, r *http.Request) {
	obj, err := h.svc.Engine().Replan(chi.URLParam(r, "userID"), chi.URLParam(r, "objectiveID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, obj)
}

type reopenRequest struct {
	Topics []string `json:"topics"`
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	var req reopenRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	obj, err := h.svc.Engine().ReopenObjective(
		chi.URLParam(r, "userID"), chi.URLParam(r, "objectiveID"), req.Topics)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, obj)
}
