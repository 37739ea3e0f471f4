package models

import (
	"time"
)

// Document statuses. PROCESSING is the only non-terminal one.
const (
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

// Requested content kinds.
const (
	ContentFlashcards = "flashcards"
	ContentQuiz       = "quiz"
	ContentBoth       = "both"
)

// Flashcard types accepted from the generator.
const (
	CardConcept    = "concept"
	CardCode       = "code"
	CardDiagram    = "diagram"
	CardExample    = "example"
	CardComparison = "comparison"
)

// IsTerminalStatus reports whether no further transition is allowed from status.
func IsTerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// User represents an authenticated user of the system.
type User struct {
	ID                   string     `db:"id" json:"id"`
	FirstName            string     `db:"first_name" json:"first_name"`
	Email                string     `db:"email" json:"email"`
	PasswordHash         string     `db:"password_hash" json:"-"`
	DailyGenerationCount int        `db:"daily_generation_count" json:"-"`
	LastGenerationReset  *time.Time `db:"last_generation_reset" json:"-"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// QuotaState is the persisted part of a user's daily generation counter.
type QuotaState struct {
	Count     int        `db:"daily_generation_count"`
	LastReset *time.Time `db:"last_generation_reset"`
}

// Document is one submitted source and the durable state of its pipeline run.
type Document struct {
	ID                  string    `db:"id" json:"id"`
	UserID              string    `db:"user_id" json:"user_id"`
	FileName            string    `db:"file_name" json:"file_name"`
	FilePath            string    `db:"file_path" json:"-"`             // S3 URL, empty for text submissions
	SourceType          string    `db:"source_type" json:"source_type"` // "upload" or "text"
	Status              string    `db:"status" json:"status"`
	Phase               string    `db:"phase" json:"phase"`
	CurrentStep         string    `db:"current_step" json:"current_step"`
	ProcessingProgress  int       `db:"processing_progress" json:"processing_progress"`
	ExtractedText       *string   `db:"extracted_text" json:"extracted_text"`
	GeneratesFlashcards bool      `db:"generates_flashcards" json:"generates_flashcards"`
	GeneratesQuizzes    bool      `db:"generates_quizzes" json:"generates_quizzes"`
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time `db:"updated_at" json:"updated_at"`
}

// StepUpdate is one durable progress write on a document.
type StepUpdate struct {
	Phase    string
	Step     string
	Progress int
}

// DocumentDetail is the polling view of a document.
type DocumentDetail struct {
	Document
	TotalFlashcards int  `json:"total_flashcards"`
	HasQuiz         bool `json:"has_quiz"`
}

// Flashcard is a front/back pair generated from a document.
type Flashcard struct {
	ID         string    `db:"id" json:"id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Front      string    `db:"front" json:"front"`
	Back       string    `db:"back" json:"back"`
	Type       string    `db:"card_type" json:"type"`
	Position   int       `db:"position" json:"position"`
	Embedding  []float32 `db:"front_embedding" json:"-"` // pgvector column
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Quiz is the single quiz a document may own.
type Quiz struct {
	ID         string     `db:"id" json:"id"`
	DocumentID string     `db:"document_id" json:"document_id"`
	Title      string     `db:"title" json:"title"`
	Questions  []Question `json:"questions"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

type Question struct {
	ID       string   `db:"id" json:"id"`
	QuizID   string   `db:"quiz_id" json:"quiz_id"`
	Position int      `db:"position" json:"position"`
	Text     string   `db:"text" json:"text"`
	Answers  []Answer `json:"answers"`
}

type Answer struct {
	ID          string  `db:"id" json:"id"`
	QuestionID  string  `db:"question_id" json:"question_id"`
	Position    int     `db:"position" json:"position"`
	Text        string  `db:"text" json:"text"`
	IsCorrect   bool    `db:"is_correct" json:"is_correct"`
	Explanation *string `db:"explanation" json:"explanation,omitempty"`
}
