package pipeline

import (
	"fmt"

	"github.com/markdave123-py/Cardify/internal/models"
)

// Phase is the machine-readable position of a document inside a pipeline run.
// The human-readable text lives next to it in current_step.
type Phase string

const (
	PhaseQueued               Phase = "queued"
	PhaseExtracting           Phase = "extracting"
	PhaseGeneratingFlashcards Phase = "generating_flashcards"
	PhaseGeneratingQuiz       Phase = "generating_quiz"
	PhasePersisting           Phase = "persisting"
	PhaseCompleted            Phase = "completed"
	PhaseFailed               Phase = "failed"
	PhaseCancelled            Phase = "cancelled"
)

var phaseLabels = map[Phase]string{
	PhaseQueued:               "queued",
	PhaseExtracting:           "extracting text",
	PhaseGeneratingFlashcards: "generating flashcards",
	PhaseGeneratingQuiz:       "generating quiz",
	PhasePersisting:           "saving",
	PhaseCompleted:            "done",
	PhaseCancelled:            "cancelled",
}

var phaseProgress = map[Phase]int{
	PhaseExtracting:           10,
	PhaseGeneratingFlashcards: 40,
	PhaseGeneratingQuiz:       70,
	PhasePersisting:           90,
	PhaseCompleted:            100,
}

func (p Phase) Label() string {
	if l, ok := phaseLabels[p]; ok {
		return l
	}
	return string(p)
}

func (p Phase) Progress() int { return phaseProgress[p] }

// Update is the durable write for entering p.
func (p Phase) Update() models.StepUpdate {
	return models.StepUpdate{Phase: string(p), Step: p.Label(), Progress: p.Progress()}
}

// Queued is the state a document is created in.
func Queued() models.StepUpdate { return PhaseQueued.Update() }

// Cancelled is written by the cancel endpoint.
func Cancelled() models.StepUpdate { return PhaseCancelled.Update() }

// retryUpdate keeps the phase that failed and reports the attempt count.
func retryUpdate(at Phase, attempt, total int, reason error) models.StepUpdate {
	return models.StepUpdate{
		Phase:    string(at),
		Step:     fmt.Sprintf("attempt %d/%d failed: %v", attempt, total, reason),
		Progress: at.Progress(),
	}
}

func failedUpdate(at Phase, attempts int, reason error) models.StepUpdate {
	noun := "attempts"
	if attempts == 1 {
		noun = "attempt"
	}
	return models.StepUpdate{
		Phase:    string(PhaseFailed),
		Step:     fmt.Sprintf("failed after %d %s: %v", attempts, noun, reason),
		Progress: at.Progress(),
	}
}

func interruptedUpdate(at Phase, attempt int) models.StepUpdate {
	return models.StepUpdate{
		Phase:    string(PhaseFailed),
		Step:     fmt.Sprintf("interrupted by shutdown after attempt %d", attempt),
		Progress: at.Progress(),
	}
}
