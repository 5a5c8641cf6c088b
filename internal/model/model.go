package model

import "time"

// ObjectiveStatus represents the lifecycle state of a learning objective.
type ObjectiveStatus string

const (
	ObjectivePlanned    ObjectiveStatus = "planned"
	ObjectiveInProgress ObjectiveStatus = "in_progress"
	ObjectiveCompleted  ObjectiveStatus = "completed"
)

// TopicStatus represents the learning state of a single topic.
type TopicStatus string

const (
	TopicNotStarted  TopicStatus = "not_started"
	TopicTaught      TopicStatus = "taught"
	TopicQuizzed     TopicStatus = "quizzed"
	TopicMastered    TopicStatus = "mastered"
	TopicNeedsReview TopicStatus = "needs_review"
	TopicSkipped     TopicStatus = "skipped"
)

// Terminal reports whether a topic status requires no further teaching.
func (s TopicStatus) Terminal() bool {
	return s == TopicMastered || s == TopicSkipped
}

// UserRecord is the root of one user's persisted learning state.
// It exclusively owns its objectives; objectives own their topics and
// topics own their attempt history.
type UserRecord struct {
	UserID     string                        `json:"user_id"`
	Objectives map[string]*LearningObjective `json:"objectives"`
	CreatedAt  time.Time                     `json:"created_at"`
	UpdatedAt  time.Time                     `json:"updated_at"`
}

// NewUserRecord returns an empty record for a first-time user.
func NewUserRecord(userID string, now time.Time) *UserRecord {
	return &UserRecord{
		UserID:     userID,
		Objectives: make(map[string]*LearningObjective),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// LearningObjective is one run of the tutoring workflow for one stated
// objective. ObjectiveText is immutable once set; StudyPlan order is the
// teaching order and changes only through replanning.
type LearningObjective struct {
	ID            string                    `json:"id"`
	ObjectiveText string                    `json:"objective_text"`
	StudyPlan     []TopicPlan               `json:"study_plan"`
	Topics        map[string]*TopicProgress `json:"topics"`
	Status        ObjectiveStatus           `json:"status"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
	CompletedAt   *time.Time                `json:"completed_at,omitempty"`
}

// PlanEntry returns the study plan entry for a topic name, or nil.
func (o *LearningObjective) PlanEntry(name string) *TopicPlan {
	for i := range o.StudyPlan {
		if o.StudyPlan[i].Name == name {
			return &o.StudyPlan[i]
		}
	}
	return nil
}

// TopicStatusOf returns the stored status for a plan topic,
// TopicNotStarted when no progress exists yet.
func (o *LearningObjective) TopicStatusOf(name string) TopicStatus {
	if tp, ok := o.Topics[name]; ok {
		return tp.Status
	}
	return TopicNotStarted
}

// TopicPlan is one entry of an objective's study plan.
type TopicPlan struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Priority      int      `json:"priority"`
	EstimatedTime string   `json:"estimated_time,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty"`
}

// TopicProgress is the per-topic learning state. QuizAttempts is
// append-only history; MasteryLevel is derived from the attempt
// sequence by the mastery policy and always stays within [0, 1].
type TopicProgress struct {
	Name              string        `json:"name"`
	Status            TopicStatus   `json:"status"`
	MasteryLevel      float64       `json:"mastery_level"`
	ReviewCycles      int           `json:"review_cycles"`
	QuizAttempts      []QuizAttempt `json:"quiz_attempts,omitempty"`
	LessonDeliveredAt *time.Time    `json:"lesson_delivered_at,omitempty"`
	LastAssessedAt    *time.Time    `json:"last_assessed_at,omitempty"`
}

// QuizAttempt is one assessment event. Immutable once recorded.
type QuizAttempt struct {
	Questions       []QuizQuestion `json:"questions"`
	Score           float64        `json:"score"`
	FeedbackSummary string         `json:"feedback_summary,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// QuizQuestion is a question/answer/correctness triple within an attempt.
type QuizQuestion struct {
	Text       string   `json:"text"`
	Options    []string `json:"options,omitempty"`
	Answer     string   `json:"answer"`
	UserAnswer string   `json:"user_answer"`
	Correct    bool     `json:"correct"`
}

// ObjectiveSummary is a read-only projection of one objective for the
// learning-history view.
type ObjectiveSummary struct {
	ObjectiveID     string          `json:"objective_id"`
	ObjectiveText   string          `json:"objective_text"`
	Status          ObjectiveStatus `json:"status"`
	AverageMastery  float64         `json:"average_mastery"`
	TotalTopics     int             `json:"total_topics"`
	CompletedTopics int             `json:"completed_topics"`
	QuizCount       int             `json:"quiz_count"`
	AverageScore    float64         `json:"average_quiz_score"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// ResumeTarget is the resolved continuation point for a returning user.
type ResumeTarget struct {
	UserID        string          `json:"user_id"`
	NewUser       bool            `json:"new_user"`
	ObjectiveID   string          `json:"objective_id,omitempty"`
	ObjectiveText string          `json:"objective_text,omitempty"`
	Status        ObjectiveStatus `json:"status,omitempty"`
	NextTopic     string          `json:"next_topic,omitempty"`
	ReadOnly      bool            `json:"read_only,omitempty"`
	// Alternates lists other resumable objective IDs that were not
	// selected, most recently updated first.
	Alternates []string `json:"alternates,omitempty"`
}
