package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pberezin/tutor/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists user records in normalized tables. Put replaces
// the whole record inside one transaction, so a failed write never
// leaves a subset of topics behind.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
// Use ":memory:" for tests.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, ioErr("open", err)
	}
	if err := db.Ping(); err != nil {
		return nil, ioErr("ping", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, ioErr("migrate", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS objectives (
		objective_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		objective_text TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT,
		FOREIGN KEY (user_id) REFERENCES users(user_id)
	);

	CREATE TABLE IF NOT EXISTS plan_topics (
		objective_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		estimated_time TEXT NOT NULL DEFAULT '',
		prerequisites TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (objective_id, position),
		FOREIGN KEY (objective_id) REFERENCES objectives(objective_id)
	);

	CREATE TABLE IF NOT EXISTS topics (
		objective_id TEXT NOT NULL,
		topic_name TEXT NOT NULL,
		status TEXT NOT NULL,
		mastery_level REAL NOT NULL DEFAULT 0,
		review_cycles INTEGER NOT NULL DEFAULT 0,
		lesson_delivered_at TEXT,
		last_assessed_at TEXT,
		PRIMARY KEY (objective_id, topic_name),
		FOREIGN KEY (objective_id) REFERENCES objectives(objective_id)
	);

	CREATE TABLE IF NOT EXISTS attempts (
		objective_id TEXT NOT NULL,
		topic_name TEXT NOT NULL,
		seq INTEGER NOT NULL,
		score REAL NOT NULL,
		feedback TEXT NOT NULL DEFAULT '',
		questions TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		PRIMARY KEY (objective_id, topic_name, seq),
		FOREIGN KEY (objective_id, topic_name) REFERENCES topics(objective_id, topic_name)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Timestamps are stored as RFC 3339 UTC strings so that round-tripped
// records compare equal regardless of the writer's time zone.
func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) Put(userID string, rec *model.UserRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ioErr("begin", err)
	}
	defer tx.Rollback()

	// Replace the whole record: clear the user's rows, then re-insert.
	for _, q := range []string{
		`DELETE FROM attempts WHERE objective_id IN (SELECT objective_id FROM objectives WHERE user_id = ?)`,
		`DELETE FROM topics WHERE objective_id IN (SELECT objective_id FROM objectives WHERE user_id = ?)`,
		`DELETE FROM plan_topics WHERE objective_id IN (SELECT objective_id FROM objectives WHERE user_id = ?)`,
		`DELETE FROM objectives WHERE user_id = ?`,
	} {
		if _, err := tx.Exec(q, userID); err != nil {
			return ioErr("clear", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO users (user_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET created_at = ?, updated_at = ?`,
		userID, fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt),
		fmtTime(rec.CreatedAt), fmtTime(rec.UpdatedAt),
	)
	if err != nil {
		return ioErr("upsert user", err)
	}

	for objID, obj := range rec.Objectives {
		_, err := tx.Exec(
			`INSERT INTO objectives (objective_id, user_id, objective_text, status, created_at, updated_at, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			objID, userID, obj.ObjectiveText, obj.Status,
			fmtTime(obj.CreatedAt), fmtTime(obj.UpdatedAt), fmtTimePtr(obj.CompletedAt),
		)
		if err != nil {
			return ioErr("insert objective", err)
		}

		for pos, tp := range obj.StudyPlan {
			prereqs, err := json.Marshal(tp.Prerequisites)
			if err != nil {
				return ioErr("encode prerequisites", err)
			}
			_, err = tx.Exec(
				`INSERT INTO plan_topics (objective_id, position, name, description, priority, estimated_time, prerequisites)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				objID, pos, tp.Name, tp.Description, tp.Priority, tp.EstimatedTime, string(prereqs),
			)
			if err != nil {
				return ioErr("insert plan topic", err)
			}
		}

		for name, tp := range obj.Topics {
			_, err := tx.Exec(
				`INSERT INTO topics (objective_id, topic_name, status, mastery_level, review_cycles, lesson_delivered_at, last_assessed_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				objID, name, tp.Status, tp.MasteryLevel, tp.ReviewCycles,
				fmtTimePtr(tp.LessonDeliveredAt), fmtTimePtr(tp.LastAssessedAt),
			)
			if err != nil {
				return ioErr("insert topic", err)
			}
			for seq, att := range tp.QuizAttempts {
				questions, err := json.Marshal(att.Questions)
				if err != nil {
					return ioErr("encode questions", err)
				}
				_, err = tx.Exec(
					`INSERT INTO attempts (objective_id, topic_name, seq, score, feedback, questions, created_at)
					 VALUES (?, ?, ?, ?, ?, ?, ?)`,
					objID, name, seq, att.Score, att.FeedbackSummary, string(questions), fmtTime(att.Timestamp),
				)
				if err != nil {
					return ioErr("insert attempt", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return ioErr("commit", err)
	}
	return nil
}

func (s *SQLiteStore) Get(userID string) (*model.UserRecord, error) {
	var createdAt, updatedAt string
	err := s.db.QueryRow(
		`SELECT created_at, updated_at FROM users WHERE user_id = ?`, userID,
	).Scan(&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ioErr("get user", err)
	}

	rec := &model.UserRecord{
		UserID:     userID,
		Objectives: make(map[string]*model.LearningObjective),
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, ioErr("decode user", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, ioErr("decode user", err)
	}

	rows, err := s.db.Query(
		`SELECT objective_id, objective_text, status, created_at, updated_at, completed_at
		 FROM objectives WHERE user_id = ? ORDER BY objective_id`, userID,
	)
	if err != nil {
		return nil, ioErr("list objectives", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			obj              model.LearningObjective
			created, updated string
			completed        sql.NullString
		)
		if err := rows.Scan(&obj.ID, &obj.ObjectiveText, &obj.Status, &created, &updated, &completed); err != nil {
			return nil, ioErr("scan objective", err)
		}
		if obj.CreatedAt, err = parseTime(created); err != nil {
			return nil, ioErr("decode objective", err)
		}
		if obj.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, ioErr("decode objective", err)
		}
		if obj.CompletedAt, err = parseTimePtr(completed); err != nil {
			return nil, ioErr("decode objective", err)
		}
		obj.Topics = make(map[string]*model.TopicProgress)
		rec.Objectives[obj.ID] = &obj
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("list objectives", err)
	}

	for objID, obj := range rec.Objectives {
		if obj.StudyPlan, err = s.loadPlan(objID); err != nil {
			return nil, err
		}
		if err := s.loadTopics(objID, obj); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (s *SQLiteStore) loadPlan(objectiveID string) ([]model.TopicPlan, error) {
	rows, err := s.db.Query(
		`SELECT name, description, priority, estimated_time, prerequisites
		 FROM plan_topics WHERE objective_id = ? ORDER BY position`, objectiveID,
	)
	if err != nil {
		return nil, ioErr("list plan", err)
	}
	defer rows.Close()
	var plan []model.TopicPlan
	for rows.Next() {
		var (
			tp      model.TopicPlan
			prereqs string
		)
		if err := rows.Scan(&tp.Name, &tp.Description, &tp.Priority, &tp.EstimatedTime, &prereqs); err != nil {
			return nil, ioErr("scan plan topic", err)
		}
		if err := json.Unmarshal([]byte(prereqs), &tp.Prerequisites); err != nil {
			return nil, ioErr("decode prerequisites", err)
		}
		plan = append(plan, tp)
	}
	return plan, rows.Err()
}

func (s *SQLiteStore) loadTopics(objectiveID string, obj *model.LearningObjective) error {
	rows, err := s.db.Query(
		`SELECT topic_name, status, mastery_level, review_cycles, lesson_delivered_at, last_assessed_at
		 FROM topics WHERE objective_id = ? ORDER BY topic_name`, objectiveID,
	)
	if err != nil {
		return ioErr("list topics", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tp                  model.TopicProgress
			delivered, assessed sql.NullString
		)
		if err := rows.Scan(&tp.Name, &tp.Status, &tp.MasteryLevel, &tp.ReviewCycles, &delivered, &assessed); err != nil {
			return ioErr("scan topic", err)
		}
		if tp.LessonDeliveredAt, err = parseTimePtr(delivered); err != nil {
			return ioErr("decode topic", err)
		}
		if tp.LastAssessedAt, err = parseTimePtr(assessed); err != nil {
			return ioErr("decode topic", err)
		}
		obj.Topics[tp.Name] = &tp
	}
	if err := rows.Err(); err != nil {
		return ioErr("list topics", err)
	}

	for name, tp := range obj.Topics {
		attempts, err := s.loadAttempts(objectiveID, name)
		if err != nil {
			return err
		}
		tp.QuizAttempts = attempts
	}
	return nil
}

func (s *SQLiteStore) loadAttempts(objectiveID, topicName string) ([]model.QuizAttempt, error) {
	rows, err := s.db.Query(
		`SELECT score, feedback, questions, created_at
		 FROM attempts WHERE objective_id = ? AND topic_name = ? ORDER BY seq`,
		objectiveID, topicName,
	)
	if err != nil {
		return nil, ioErr("list attempts", err)
	}
	defer rows.Close()
	var attempts []model.QuizAttempt
	for rows.Next() {
		var (
			att       model.QuizAttempt
			questions string
			created   string
		)
		if err := rows.Scan(&att.Score, &att.FeedbackSummary, &questions, &created); err != nil {
			return nil, ioErr("scan attempt", err)
		}
		if err := json.Unmarshal([]byte(questions), &att.Questions); err != nil {
			return nil, ioErr("decode questions", err)
		}
		if att.Timestamp, err = parseTime(created); err != nil {
			return nil, ioErr("decode attempt", err)
		}
		attempts = append(attempts, att)
	}
	return attempts, rows.Err()
}

func (s *SQLiteStore) Delete(userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ioErr("begin", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM attempts WHERE objective_id IN (SELECT objective_id FROM objectives WHERE user_id = ?)`,
		`DELETE FROM topics WHERE objective_id IN (SELECT objective_id FROM objectives WHERE user_id = ?)`,
		`DELETE FROM plan_topics WHERE objective_id IN (SELECT objective_id FROM objectives WHERE user_id = ?)`,
		`DELETE FROM objectives WHERE user_id = ?`,
	} {
		if _, err := tx.Exec(q, userID); err != nil {
			return ioErr("clear", err)
		}
	}
	res, err := tx.Exec(`DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return ioErr("delete user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ioErr("delete user", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return ioErr("commit", err)
	}
	return nil
}

func (s *SQLiteStore) ListUsers() ([]string, error) {
	rows, err := s.db.Query(`SELECT user_id FROM users ORDER BY user_id`)
	if err != nil {
		return nil, ioErr("list users", err)
	}
	defer rows.Close()
	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ioErr("scan user", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

var _ Backend = (*SQLiteStore)(nil)
var _ Backend = (*DocumentStore)(nil)
