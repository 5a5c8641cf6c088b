package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pberezin/tutor/internal/i18n"
	"github.com/pberezin/tutor/internal/llm"
	"github.com/pberezin/tutor/internal/model"
	"github.com/pberezin/tutor/internal/progress"
	"github.com/pberezin/tutor/internal/session"
	"github.com/pberezin/tutor/internal/storage"
	"github.com/pberezin/tutor/internal/tutor"
)

// fakeGenerator serves canned plans, lessons and quizzes.
type fakeGenerator struct {
	evalScore float64
}

func (f *fakeGenerator) GeneratePlan(context.Context, string, int) ([]model.TopicPlan, error) {
	return []model.TopicPlan{
		{Name: "basics", Description: "language basics", Priority: 1},
		{Name: "concurrency", Description: "goroutines", Priority: 2},
	}, nil
}

func (f *fakeGenerator) GenerateLesson(_ context.Context, _ string, topic model.TopicPlan, _ float64, _ bool) (*llm.Lesson, error) {
	return &llm.Lesson{Text: "lesson on " + topic.Name}, nil
}

func (f *fakeGenerator) GenerateQuiz(_ context.Context, _ string, topic model.TopicPlan, n int) ([]model.QuizQuestion, error) {
	questions := make([]model.QuizQuestion, n)
	for i := range questions {
		questions[i] = model.QuizQuestion{
			Text:    fmt.Sprintf("%s question %d", topic.Name, i+1),
			Options: []string{"right", "wrong"},
			Answer:  "right",
		}
	}
	return questions, nil
}

func (f *fakeGenerator) EvaluateQuiz(_ context.Context, _ string, questions []model.QuizQuestion) (*llm.EvalResult, error) {
	results := make([]llm.QuestionResult, len(questions))
	for i, q := range questions {
		results[i] = llm.QuestionResult{Correct: q.UserAnswer == q.Answer}
	}
	return &llm.EvalResult{Score: f.evalScore, Feedback: "keep going", Results: results}, nil
}

func newTestServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}

	backend, err := storage.NewDocumentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDocumentStore: %v", err)
	}
	store := progress.NewStore(backend)
	t.Cleanup(func() { store.Close() })

	engine := session.NewEngine(store, session.DefaultPolicy())
	svc := tutor.NewService(engine, &fakeGenerator{evalScore: 1.0}, tutor.Options{QuestionCount: 2})

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	New(svc, cfg).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Config{})

	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCreateObjectiveAndResume(t *testing.T) {
	srv := newTestServer(t, Config{})

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/users/alice/resume", nil)
	var target model.ResumeTarget
	decodeBody(t, resp, &target)
	if !target.NewUser {
		t.Error("expected new-user resume target")
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/users/alice/objectives",
		map[string]string{"objective_text": "Learn Go"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var obj model.LearningObjective
	decodeBody(t, resp, &obj)
	if len(obj.StudyPlan) != 2 {
		t.Fatalf("plan topics = %d, want 2", len(obj.StudyPlan))
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/users/alice/resume", nil)
	decodeBody(t, resp, &target)
	if target.ObjectiveID != obj.ID || target.NextTopic != "basics" {
		t.Errorf("resume target = %+v", target)
	}
}

func TestQuizFlow(t *testing.T) {
	srv := newTestServer(t, Config{})
	base := srv.URL + "/api/users/bob"

	resp := doJSON(t, http.MethodPost, base+"/objectives", map[string]string{"objective_text": "Learn Go"})
	var obj model.LearningObjective
	decodeBody(t, resp, &obj)

	topicURL := fmt.Sprintf("%s/objectives/%s/topics/basics", base, obj.ID)

	resp = doJSON(t, http.MethodPost, topicURL+"/lesson", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lesson status = %d, want 200", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, topicURL+"/quiz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quiz status = %d, want 200", resp.StatusCode)
	}
	var quiz struct {
		Questions []struct {
			Text    string   `json:"text"`
			Options []string `json:"options"`
			Answer  string   `json:"answer"`
		} `json:"questions"`
	}
	decodeBody(t, resp, &quiz)
	if len(quiz.Questions) != 2 {
		t.Fatalf("questions = %d, want 2", len(quiz.Questions))
	}
	for _, q := range quiz.Questions {
		if q.Answer != "" {
			t.Errorf("answer leaked to client: %+v", q)
		}
	}

	resp = doJSON(t, http.MethodPost, topicURL+"/attempts",
		map[string]any{"answers": []string{"right", "right"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("attempt status = %d, want 200", resp.StatusCode)
	}
	var result struct {
		Score float64             `json:"score"`
		Topic model.TopicProgress `json:"topic"`
	}
	decodeBody(t, resp, &result)
	if result.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", result.Score)
	}
	// 0.6*1.0 over a zero prior is below the mastery bar.
	if result.Topic.Status != model.TopicNeedsReview {
		t.Errorf("topic status = %q, want needs_review", result.Topic.Status)
	}
}

func TestAttemptWithoutPendingQuiz(t *testing.T) {
	srv := newTestServer(t, Config{})
	base := srv.URL + "/api/users/carol"

	resp := doJSON(t, http.MethodPost, base+"/objectives", map[string]string{"objective_text": "Learn Go"})
	var obj model.LearningObjective
	decodeBody(t, resp, &obj)

	resp = doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/objectives/%s/topics/basics/attempts", base, obj.ID),
		map[string]any{"answers": []string{"right"}})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", resp.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t, Config{})
	base := srv.URL + "/api/users/dave"

	t.Run("unknown objective is 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, base+"/objectives/missing/topics/basics/lesson", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("invalid transition is 422", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, base+"/objectives", map[string]string{"objective_text": "Learn Go"})
		var obj model.LearningObjective
		decodeBody(t, resp, &obj)

		// Quiz before any lesson.
		resp = doJSON(t, http.MethodPost,
			fmt.Sprintf("%s/objectives/%s/topics/basics/quiz", base, obj.ID), nil)
		if resp.StatusCode != http.StatusUnprocessableEntity {
			t.Errorf("status = %d, want 422", resp.StatusCode)
		}
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, base+"/objectives", bytes.NewBufferString("{not json"))
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{})
	base := srv.URL + "/api/users/erin"

	doJSON(t, http.MethodPost, base+"/objectives", map[string]string{"objective_text": "Learn Go"})

	resp := doJSON(t, http.MethodGet, base+"/history", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history status = %d, want 200", resp.StatusCode)
	}
	var history struct {
		Objectives []model.ObjectiveSummary `json:"objectives"`
	}
	decodeBody(t, resp, &history)
	if len(history.Objectives) != 1 {
		t.Errorf("history entries = %d, want 1", len(history.Objectives))
	}
	if history.Objectives[0].TotalTopics != 2 {
		t.Errorf("TotalTopics = %d, want 2", history.Objectives[0].TotalTopics)
	}
}

func TestAuthRequired(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	srv := newTestServer(t, Config{AccessCodeHash: string(hash)})

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/users/alice/resume", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/login", map[string]string{"access_code": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/login", map[string]string{"access_code": "open sesame"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	var sessionCookie, csrfCookie *http.Cookie
	for _, c := range resp.Cookies() {
		switch c.Name {
		case sessionCookieName:
			sessionCookie = c
		case csrfCookieName:
			csrfCookie = c
		}
	}
	if sessionCookie == nil || csrfCookie == nil {
		t.Fatalf("login did not set both cookies: %v", resp.Cookies())
	}

	// GET with the session cookie succeeds.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/users/alice/resume", nil)
	req.AddCookie(sessionCookie)
	authResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer authResp.Body.Close()
	if authResp.StatusCode != http.StatusOK {
		t.Errorf("authenticated GET status = %d, want 200", authResp.StatusCode)
	}

	// POST without the CSRF header is rejected.
	body := bytes.NewBufferString(`{"objective_text": "Learn Go"}`)
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/users/alice/objectives", body)
	req.AddCookie(sessionCookie)
	req.AddCookie(csrfCookie)
	noCSRF, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer noCSRF.Body.Close()
	if noCSRF.StatusCode != http.StatusForbidden {
		t.Errorf("POST without CSRF header status = %d, want 403", noCSRF.StatusCode)
	}

	// POST with cookie and matching header succeeds.
	body = bytes.NewBufferString(`{"objective_text": "Learn Go"}`)
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/users/alice/objectives", body)
	req.AddCookie(sessionCookie)
	req.AddCookie(csrfCookie)
	req.Header.Set(csrfHeaderName, csrfCookie.Value)
	withCSRF, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer withCSRF.Body.Close()
	if withCSRF.StatusCode != http.StatusCreated {
		t.Errorf("POST with CSRF header status = %d, want 201", withCSRF.StatusCode)
	}
}
