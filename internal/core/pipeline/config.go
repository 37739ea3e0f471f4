package pipeline

import "time"

// Config tunes the worker pool and retry policy.
//
// Workers:        goroutines pulling jobs from the queue.
// MaxRetries:     retries after the first attempt; a run makes at most MaxRetries+1 attempts.
// RetryDelay:     fixed pause between attempts.
// RetryPermanent: when false, errors marked permanent fail the document immediately.
// EmbedDim:       expected embedding size; vectors of any other size are not stored.
type Config struct {
	Workers        int
	MaxRetries     int
	RetryDelay     time.Duration
	RetryPermanent bool
	EmbedDim       int
}

func DefaultConfig() Config {
	return Config{
		Workers:    4,
		MaxRetries: 3,
		RetryDelay: 60 * time.Second,
		EmbedDim:   768,
	}
}

// Job is one submission: which document to process and what to generate from it.
type Job struct {
	DocumentID    string `json:"document_id"`
	UserID        string `json:"user_id"`
	ContentType   string `json:"content_type"`
	NumFlashcards int    `json:"num_flashcards"`
	Difficulty    string `json:"difficulty"`
	NumQuestions  int    `json:"num_questions"`
}
