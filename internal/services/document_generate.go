package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Cardify/internal/core/generation"
	"github.com/markdave123-py/Cardify/internal/core/pipeline"
	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
)

// Limits for generation on an existing document.
const (
	onDemandFlashcards = 10
	onDemandQuestions  = 10
	MaxDeckFlashcards  = 20
	MaxQuizQuestions   = 15
)

// ContentStore holds the writes used when generating for a document that already exists.
type ContentStore interface {
	AppendFlashcards(ctx context.Context, docID string, cards []models.Flashcard, limit int) error
	SaveQuiz(ctx context.Context, docID string, quiz *models.Quiz) error
	AppendQuestions(ctx context.Context, quizID string, questions []models.Question, limit int) error
}

type AddFlashcardsRequest struct {
	NumFlashcards int    `json:"num_flashcards"`
	Difficulty    string `json:"difficulty"`
}

type AddQuestionsRequest struct {
	NumQuestions int    `json:"num_questions"`
	Difficulty   string `json:"difficulty"`
}

type contentGenerator struct {
	gen pipeline.ContentGenerator

	mu  sync.Mutex
	rng *rand.Rand
}

// WithGenerator enables generate and add requests on existing documents.
// A nil rng seeds one from the clock.
func (s *DocumentService) WithGenerator(store ContentStore, gen pipeline.ContentGenerator, rng *rand.Rand) *DocumentService {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	s.content = store
	s.generator = &contentGenerator{gen: gen, rng: rng}
	return s
}

func (g *contentGenerator) shuffle(q generation.QuizDraft) generation.QuizDraft {
	g.mu.Lock()
	defer g.mu.Unlock()
	return generation.ShuffleAnswers(q, g.rng)
}

// sourceText loads the document and its text once quota, ownership and state allow generating from it.
func (s *DocumentService) sourceText(ctx context.Context, userID, docID string) (*models.Document, string, error) {
	if s.generator == nil {
		return nil, "", fmt.Errorf("generation is not configured: %w", apperrors.ErrInvalidState)
	}
	if err := s.checkQuota(ctx, userID); err != nil {
		return nil, "", err
	}
	doc, err := s.owned(ctx, userID, docID)
	if err != nil {
		return nil, "", err
	}
	if doc.Status == models.StatusProcessing {
		return nil, "", fmt.Errorf("document is still processing: %w", apperrors.ErrInvalidState)
	}
	if doc.ExtractedText == nil || strings.TrimSpace(*doc.ExtractedText) == "" {
		return nil, "", fmt.Errorf("document has no text to generate from: %w", apperrors.ErrInvalidArgument)
	}
	return doc, *doc.ExtractedText, nil
}

func (s *DocumentService) countGeneration(ctx context.Context, userID string) {
	if err := s.quota.Increment(ctx, userID); err != nil {
		s.log.Error("quota increment failed", "user_id", userID, "error", err)
	}
}

// GenerateFlashcards builds the first deck for a document that has none.
func (s *DocumentService) GenerateFlashcards(ctx context.Context, userID, docID string) ([]models.Flashcard, error) {
	doc, text, err := s.sourceText(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListFlashcardsByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("document already has flashcards: %w", apperrors.ErrInvalidState)
	}

	drafts, err := s.generator.gen.GenerateFlashcards(ctx, text, onDemandFlashcards, generation.Medium)
	if err != nil {
		return nil, fmt.Errorf("generate flashcards: %w", err)
	}
	return s.storeFlashcards(ctx, doc, drafts)
}

// AddFlashcards grows an existing deck up to MaxDeckFlashcards, telling the model which cards it already has.
func (s *DocumentService) AddFlashcards(ctx context.Context, userID, docID string, req AddFlashcardsRequest) ([]models.Flashcard, error) {
	if req.NumFlashcards < 1 || req.NumFlashcards > MaxDeckFlashcards {
		return nil, fmt.Errorf("num_flashcards must be between 1 and %d: %w", MaxDeckFlashcards, apperrors.ErrInvalidArgument)
	}
	doc, text, err := s.sourceText(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListFlashcardsByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) >= MaxDeckFlashcards {
		return nil, fmt.Errorf("deck already has the maximum of %d flashcards: %w", MaxDeckFlashcards, apperrors.ErrInvalidState)
	}
	if free := MaxDeckFlashcards - len(existing); req.NumFlashcards > free {
		return nil, fmt.Errorf("at most %d more flashcards fit, the deck has %d of %d: %w",
			free, len(existing), MaxDeckFlashcards, apperrors.ErrInvalidArgument)
	}

	seen := make([]string, len(existing))
	for i, c := range existing {
		seen[i] = generation.DescribeFlashcard(c.Front, c.Back)
	}
	drafts, err := s.generator.gen.GenerateFlashcards(ctx, generation.AvoidRepeating(text, seen), req.NumFlashcards, generation.ParseDifficulty(req.Difficulty))
	if err != nil {
		return nil, fmt.Errorf("generate flashcards: %w", err)
	}
	return s.storeFlashcards(ctx, doc, drafts)
}

func (s *DocumentService) storeFlashcards(ctx context.Context, doc *models.Document, drafts []generation.FlashcardDraft) ([]models.Flashcard, error) {
	if len(drafts) == 0 {
		return nil, pipeline.ErrNoContent
	}
	cards := make([]models.Flashcard, len(drafts))
	for i, d := range drafts {
		cards[i] = models.Flashcard{ID: uuid.NewString(), DocumentID: doc.ID, Front: d.Front, Back: d.Back, Type: d.Type}
	}
	if err := s.content.AppendFlashcards(ctx, doc.ID, cards, MaxDeckFlashcards); err != nil {
		return nil, err
	}
	s.countGeneration(ctx, doc.UserID)
	s.log.Info("flashcards added", "document_id", doc.ID, "count", len(cards))
	return cards, nil
}

// GenerateQuiz builds the quiz for a document that has none. Answers are shuffled before saving.
func (s *DocumentService) GenerateQuiz(ctx context.Context, userID, docID string) (*models.Quiz, error) {
	doc, text, err := s.sourceText(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetQuizByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if current != nil {
		return nil, fmt.Errorf("document already has a quiz: %w", apperrors.ErrInvalidState)
	}

	draft, err := s.generator.gen.GenerateQuiz(ctx, text, onDemandQuestions, generation.Medium)
	if err != nil {
		return nil, fmt.Errorf("generate quiz: %w", err)
	}
	if draft == nil || len(draft.Questions) == 0 {
		return nil, pipeline.ErrNoContent
	}
	shuffled := s.generator.shuffle(*draft)
	quiz := &models.Quiz{ID: uuid.NewString(), DocumentID: doc.ID, Title: shuffled.Title, Questions: toQuestions(shuffled.Questions)}
	if err := s.content.SaveQuiz(ctx, doc.ID, quiz); err != nil {
		return nil, err
	}
	s.countGeneration(ctx, doc.UserID)
	s.log.Info("quiz added", "document_id", doc.ID, "questions", len(quiz.Questions))
	return quiz, nil
}

// AddQuestions grows an existing quiz up to MaxQuizQuestions and returns the whole quiz.
func (s *DocumentService) AddQuestions(ctx context.Context, userID, docID string, req AddQuestionsRequest) (*models.Quiz, error) {
	if req.NumQuestions < 1 || req.NumQuestions > MaxQuizQuestions {
		return nil, fmt.Errorf("num_questions must be between 1 and %d: %w", MaxQuizQuestions, apperrors.ErrInvalidArgument)
	}
	doc, text, err := s.sourceText(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	quiz, err := s.store.GetQuizByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, fmt.Errorf("document has no quiz yet: %w", apperrors.ErrInvalidState)
	}
	if len(quiz.Questions) >= MaxQuizQuestions {
		return nil, fmt.Errorf("quiz already has the maximum of %d questions: %w", MaxQuizQuestions, apperrors.ErrInvalidState)
	}
	if free := MaxQuizQuestions - len(quiz.Questions); req.NumQuestions > free {
		return nil, fmt.Errorf("at most %d more questions fit, the quiz has %d of %d: %w",
			free, len(quiz.Questions), MaxQuizQuestions, apperrors.ErrInvalidArgument)
	}

	seen := make([]string, len(quiz.Questions))
	for i, q := range quiz.Questions {
		answers := make([]string, len(q.Answers))
		for j, a := range q.Answers {
			answers[j] = a.Text
		}
		seen[i] = generation.DescribeQuestion(q.Text, answers)
	}
	draft, err := s.generator.gen.GenerateQuiz(ctx, generation.AvoidRepeating(text, seen), req.NumQuestions, generation.ParseDifficulty(req.Difficulty))
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	if draft == nil || len(draft.Questions) == 0 {
		return nil, pipeline.ErrNoContent
	}
	shuffled := s.generator.shuffle(*draft)
	if err := s.content.AppendQuestions(ctx, quiz.ID, toQuestions(shuffled.Questions), MaxQuizQuestions); err != nil {
		return nil, err
	}
	s.countGeneration(ctx, doc.UserID)
	s.log.Info("questions added", "document_id", doc.ID, "count", len(shuffled.Questions))

	updated, err := s.store.GetQuizByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperrors.ErrNotFound
	}
	return updated, nil
}

func toQuestions(drafts []generation.QuestionDraft) []models.Question {
	out := make([]models.Question, len(drafts))
	for i, qd := range drafts {
		q := models.Question{ID: uuid.NewString(), Position: i, Text: qd.Text}
		for j, a := range qd.Answers {
			q.Answers = append(q.Answers, models.Answer{
				ID:          uuid.NewString(),
				QuestionID:  q.ID,
				Position:    j,
				Text:        a.Text,
				IsCorrect:   a.IsCorrect,
				Explanation: a.Explanation,
			})
		}
		out[i] = q
	}
	return out
}
