package generation

import (
	"strings"
	"time"
)

type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

// ParseDifficulty is case-insensitive; anything unrecognised becomes Medium.
func ParseDifficulty(s string) Difficulty {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return Easy
	case "hard":
		return Hard
	default:
		return Medium
	}
}

// FlashcardDraft is one card as returned by the model.
type FlashcardDraft struct {
	Front string `json:"front"`
	Back  string `json:"back"`
	Type  string `json:"type"`
}

type QuizDraft struct {
	Title     string          `json:"title"`
	Questions []QuestionDraft `json:"questions"`
}

type QuestionDraft struct {
	Text    string        `json:"text"`
	Answers []AnswerDraft `json:"answers"`
}

type AnswerDraft struct {
	Text        string  `json:"text"`
	IsCorrect   bool    `json:"is_correct"`
	Explanation *string `json:"explanation,omitempty"`
}

// Config holds the generator limits.
type Config struct {
	MaxTextLength        int
	FlashcardTimeout     time.Duration
	QuizTimeout          time.Duration
	FlashcardTemperature float32
	QuizTemperature      float32
	MaxOutputTokens      int32
}

func DefaultConfig() Config {
	return Config{
		MaxTextLength:        15000,
		FlashcardTimeout:     60 * time.Second,
		QuizTimeout:          90 * time.Second,
		FlashcardTemperature: 0.7,
		QuizTemperature:      0.8,
		MaxOutputTokens:      8192,
	}
}
