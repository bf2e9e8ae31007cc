package testbank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

// Test is the admin view of a test row with every setting.
type Test struct {
	ID                     int64     `json:"id"`
	FolderID               *int64    `json:"folder_id"`
	Title                  string    `json:"title"`
	Description            string    `json:"description"`
	Category               string    `json:"category"`
	PassingScore           int       `json:"passing_score"`
	DurationMinutes        int       `json:"duration_minutes"`
	Instructions           string    `json:"instructions"`
	Status                 string    `json:"status"`
	IsFree                 bool      `json:"is_free"`
	ShuffleQuestions       bool      `json:"shuffle_questions"`
	ShowResultsImmediately bool      `json:"show_results_immediately"`
	AllowAnswerReview      bool      `json:"allow_answer_review"`
	EnableTimeLimit        bool      `json:"enable_time_limit"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

type LocalizedText struct {
	En string `json:"en" validate:"notblank,max=5000"`
	Ta string `json:"ta" validate:"max=5000"`
}

type Option struct {
	ID        int64         `json:"option_id"`
	Text      LocalizedText `json:"text"`
	IsCorrect bool          `json:"is_correct"`
}

type Question struct {
	ID       int64         `json:"question_id"`
	TestID   int64         `json:"test_id"`
	Question LocalizedText `json:"question"`
	Options  []Option      `json:"options"`
}

type OptionInput struct {
	Text      LocalizedText `json:"text"`
	IsCorrect bool          `json:"is_correct"`
}

type QuestionInput struct {
	Question LocalizedText `json:"question"`
	Options  []OptionInput `json:"options" validate:"min=2,max=10,dive"`
}

type CreateTestInput struct {
	FolderID        *int64 `json:"folder_id" validate:"omitempty,gt=0"`
	Title           string `json:"title" validate:"notblank,max=255"`
	Description     string `json:"description" validate:"max=5000"`
	Category        string `json:"category" validate:"max=255"`
	PassingScore    int    `json:"passing_score" validate:"gte=0,lte=100"`
	DurationHours   int    `json:"duration_hours" validate:"gte=0,lte=24"`
	DurationMinutes int    `json:"duration_minutes" validate:"gte=0,lte=1440"`
	Instructions    string `json:"instructions" validate:"max=10000"`
}

type CreateTestResult struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Step   string `json:"step"`
}

type SettingsInput struct {
	Title                  string `json:"title" validate:"notblank,max=255"`
	Description            string `json:"description" validate:"max=5000"`
	Category               string `json:"category" validate:"max=255"`
	PassingScore           int    `json:"passing_score" validate:"gte=0,lte=100"`
	DurationHours          int    `json:"duration_hours" validate:"gte=0,lte=24"`
	DurationMinutes        int    `json:"duration_minutes" validate:"gte=0,lte=1440"`
	Instructions           string `json:"instructions" validate:"max=10000"`
	Status                 string `json:"status" validate:"omitempty,oneof=draft published archived"`
	IsFree                 bool   `json:"is_free"`
	ShuffleQuestions       bool   `json:"shuffle_questions"`
	ShowResultsImmediately bool   `json:"show_results_immediately"`
	AllowAnswerReview      bool   `json:"allow_answer_review"`
	EnableTimeLimit        bool   `json:"enable_time_limit"`
}

type SearchParams struct {
	Query string
	Sort  string
	Page  int
	Limit int
}

type SearchItem struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Category      string    `json:"category"`
	Status        string    `json:"status"`
	IsFree        bool      `json:"is_free"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	FolderName    *string   `json:"folder_name"`
	FolderID      *int64    `json:"folder_id"`
	QuestionCount int       `json:"question_count"`
}

type Pagination struct {
	Total       int `json:"total"`
	TotalPages  int `json:"total_pages"`
	CurrentPage int `json:"current_page"`
	Limit       int `json:"limit"`
}

type SearchResult struct {
	Pagination Pagination   `json:"pagination"`
	Query      string       `json:"query"`
	Sort       string       `json:"sort"`
	Tests      []SearchItem `json:"tests"`
}

// totalMinutes folds the wizard's hour and minute fields into one duration.
func totalMinutes(hours, minutes int) int {
	return hours*60 + minutes
}

// FlexBool decodes a JSON boolean or one of the strings "true" and "false".
// Any other value is rejected.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "true":
		*b = true
		return nil
	case "false", "null":
		*b = false
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("expected boolean, got %s", string(data))
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		*b = true
	case "false":
		*b = false
	default:
		return fmt.Errorf("expected boolean, got %q", s)
	}
	return nil
}
