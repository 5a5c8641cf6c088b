// Package prompts builds the system prompts for the tutoring LLM
// calls and sanitizes user-supplied text before it is embedded in
// them.
package prompts

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pberezin/tutor/internal/model"
)

var (
	userAnswerRegex         = regexp.MustCompile(`(?i)</?\s*user-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

const maxAnswerRunes = 10000

// Sanitize strips markup a user could use to smuggle instructions into
// a prompt and truncates overlong input.
func Sanitize(text string) string {
	text = userAnswerRegex.ReplaceAllString(text, "")
	text = systemInstructionsRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if text == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(text) > maxAnswerRunes {
		runes := []rune(text)
		text = string(runes[:maxAnswerRunes]) + "\n\n[Answer truncated due to length]"
	}
	return text
}

// BuildPlanPrompt asks for a study plan covering a learning objective.
func BuildPlanPrompt(objective string, topicCount int) string {
	var sb strings.Builder
	sb.WriteString("You are a study planner for a one-on-one tutoring session.\n\n")
	sb.WriteString("LEARNING OBJECTIVE: " + Sanitize(objective) + "\n\n")
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString(fmt.Sprintf("- Break the objective into at most %d teachable topics, ordered from foundations to advanced material.\n", topicCount))
	sb.WriteString("- Each topic must be self-contained enough to teach and quiz in one sitting.\n")
	sb.WriteString("- List prerequisites only among the topics of this plan.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"topics": [{"name": "<short name>", "description": "<one sentence>", "priority": <1..n>, "estimated_time": "<e.g. 30 minutes>", "prerequisites": ["<topic name>", ...]}]}`)
	sb.WriteString("\n")
	return sb.String()
}

// BuildLessonPrompt asks for a lesson on one plan topic. Review passes
// get a prompt that addresses the earlier weak attempt.
func BuildLessonPrompt(objective string, topic model.TopicPlan, mastery float64, review bool) string {
	var sb strings.Builder
	sb.WriteString("You are a patient tutor teaching one topic of a study plan.\n\n")
	sb.WriteString("LEARNING OBJECTIVE: " + Sanitize(objective) + "\n\n")
	sb.WriteString("TOPIC: " + topic.Name + "\n")
	if topic.Description != "" {
		sb.WriteString("DESCRIPTION: " + topic.Description + "\n")
	}
	sb.WriteString("\nINSTRUCTIONS:\n")
	if review {
		sb.WriteString(fmt.Sprintf("- This is a review pass. The student scored poorly before (current mastery %.2f); re-explain the fundamentals with different examples.\n", mastery))
	} else {
		sb.WriteString("- Teach the topic from first principles with concrete examples.\n")
	}
	sb.WriteString("- Keep the lesson focused on this topic only.\n")
	sb.WriteString("- End with a short summary of the key points.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"lesson": "<the full lesson text>", "key_points": ["<point>", ...]}`)
	sb.WriteString("\n")
	return sb.String()
}

// BuildQuizPrompt asks for a multiple-choice quiz on a taught topic.
func BuildQuizPrompt(objective string, topic model.TopicPlan, questionCount int) string {
	var sb strings.Builder
	sb.WriteString("You are writing a quiz to assess one topic the student was just taught.\n\n")
	sb.WriteString("LEARNING OBJECTIVE: " + Sanitize(objective) + "\n\n")
	sb.WriteString("TOPIC: " + topic.Name + "\n")
	if topic.Description != "" {
		sb.WriteString("DESCRIPTION: " + topic.Description + "\n")
	}
	sb.WriteString("\nINSTRUCTIONS:\n")
	sb.WriteString(fmt.Sprintf("- Write exactly %d multiple-choice questions covering this topic.\n", questionCount))
	sb.WriteString("- Each question has 3 to 4 options with exactly one correct answer.\n")
	sb.WriteString("- The correct answer must be one of the options, verbatim.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"questions": [{"text": "<question>", "options": ["<option>", ...], "answer": "<correct option>"}]}`)
	sb.WriteString("\n")
	return sb.String()
}

// BuildEvalPrompt asks for a graded assessment of the student's quiz
// answers. User answers are sanitized before embedding.
func BuildEvalPrompt(topicName string, questions []model.QuizQuestion) string {
	var sb strings.Builder
	sb.WriteString("You are grading a student's quiz on the topic " + topicName + ".\n\n")
	for i, q := range questions {
		sb.WriteString(fmt.Sprintf("QUESTION %d: %s\n", i+1, q.Text))
		if len(q.Options) > 0 {
			sb.WriteString("OPTIONS: " + strings.Join(q.Options, " | ") + "\n")
		}
		sb.WriteString("CORRECT ANSWER: " + q.Answer + "\n")
		sb.WriteString("STUDENT ANSWER: " + Sanitize(q.UserAnswer) + "\n\n")
	}
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Mark each answer correct or incorrect; accept equivalent phrasings of the correct option.\n")
	sb.WriteString("- The overall score is the fraction of correct answers, between 0 and 1.\n")
	sb.WriteString("- Summarize in two sentences what the student should review.\n")
	sb.WriteString("\nRespond ONLY with a JSON object:\n")
	sb.WriteString(`{"score": <number 0 to 1>, "feedback": "<summary>", "results": [{"correct": <true/false>, "explanation": "<one sentence>"}]}`)
	sb.WriteString("\n")
	return sb.String()
}
