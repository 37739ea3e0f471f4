package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/markdave123-py/Cardify/internal/core"
	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
)

// ErrGenerationFailed covers timeouts, transport errors and malformed model output alike.
var ErrGenerationFailed = apperrors.New("generation failed")

// Generator turns source text into flashcard and quiz drafts through an LLM.
type Generator struct {
	llm core.LLMProvider
	cfg Config
	log *logger.Logger
}

func NewGenerator(llm core.LLMProvider, cfg Config, log *logger.Logger) *Generator {
	def := DefaultConfig()
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	if cfg.FlashcardTimeout <= 0 {
		cfg.FlashcardTimeout = def.FlashcardTimeout
	}
	if cfg.QuizTimeout <= 0 {
		cfg.QuizTimeout = def.QuizTimeout
	}
	if cfg.FlashcardTemperature <= 0 {
		cfg.FlashcardTemperature = def.FlashcardTemperature
	}
	if cfg.QuizTemperature <= 0 {
		cfg.QuizTemperature = def.QuizTemperature
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = def.MaxOutputTokens
	}
	return &Generator{llm: llm, cfg: cfg, log: log.With("service", "Generator")}
}

// GenerateFlashcards returns up to n cards. Cards missing a front or back are dropped.
func (g *Generator) GenerateFlashcards(ctx context.Context, text string, n int, difficulty Difficulty) ([]FlashcardDraft, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	text = clip(text, g.cfg.MaxTextLength)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.FlashcardTimeout)
	defer cancel()

	raw, err := g.llm.Generate(ctx, flashcardSystemPrompt, flashcardPrompt(text, n, difficulty), core.GenerateOptions{
		Temperature:     g.cfg.FlashcardTemperature,
		MaxOutputTokens: g.cfg.MaxOutputTokens,
		JSON:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	var payload struct {
		Flashcards *[]FlashcardDraft `json:"flashcards"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode flashcards: %w", ErrGenerationFailed, err)
	}
	if payload.Flashcards == nil {
		return nil, fmt.Errorf("%w: response has no \"flashcards\" list", ErrGenerationFailed)
	}

	cards := make([]FlashcardDraft, 0, len(*payload.Flashcards))
	for _, c := range *payload.Flashcards {
		c.Front = strings.TrimSpace(c.Front)
		c.Back = strings.TrimSpace(c.Back)
		if c.Front == "" || c.Back == "" {
			continue
		}
		c.Type = normalizeCardType(c.Type)
		cards = append(cards, c)
		if n > 0 && len(cards) == n {
			break
		}
	}
	g.log.Debug("flashcards generated", "requested", n, "received", len(*payload.Flashcards), "kept", len(cards))
	return cards, nil
}

// GenerateQuiz returns nil when the model produced no usable question.
func (g *Generator) GenerateQuiz(ctx context.Context, text string, n int, difficulty Difficulty) (*QuizDraft, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	text = clip(text, g.cfg.MaxTextLength)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.QuizTimeout)
	defer cancel()

	raw, err := g.llm.Generate(ctx, quizSystemPrompt, quizPrompt(text, n, difficulty), core.GenerateOptions{
		Temperature:     g.cfg.QuizTemperature,
		MaxOutputTokens: g.cfg.MaxOutputTokens,
		JSON:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	var payload struct {
		Title     *string          `json:"title"`
		Questions *[]QuestionDraft `json:"questions"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode quiz: %w", ErrGenerationFailed, err)
	}
	if payload.Title == nil || payload.Questions == nil {
		return nil, fmt.Errorf("%w: response needs \"title\" and \"questions\"", ErrGenerationFailed)
	}

	quiz := &QuizDraft{Title: strings.TrimSpace(*payload.Title)}
	if quiz.Title == "" {
		quiz.Title = "Quiz"
	}
	for _, q := range *payload.Questions {
		if !validQuestion(q) {
			continue
		}
		quiz.Questions = append(quiz.Questions, q)
		if n > 0 && len(quiz.Questions) == n {
			break
		}
	}
	if len(quiz.Questions) == 0 {
		return nil, nil
	}
	return quiz, nil
}

// validQuestion requires text, at least two answers and exactly one flagged correct.
func validQuestion(q QuestionDraft) bool {
	if strings.TrimSpace(q.Text) == "" || len(q.Answers) < 2 {
		return false
	}
	correct := 0
	for _, a := range q.Answers {
		if strings.TrimSpace(a.Text) == "" {
			return false
		}
		if a.IsCorrect {
			correct++
		}
	}
	return correct == 1
}

func normalizeCardType(t string) string {
	switch t = strings.ToLower(strings.TrimSpace(t)); t {
	case models.CardConcept, models.CardCode, models.CardDiagram, models.CardExample, models.CardComparison:
		return t
	default:
		return models.CardConcept
	}
}

// stripFences removes markdown code fences the model sometimes wraps JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// clip cuts text to at most max runes.
func clip(text string, max int) string {
	if max <= 0 {
		return text
	}
	n := 0
	for i := range text {
		if n == max {
			return text[:i]
		}
		n++
	}
	return text
}
