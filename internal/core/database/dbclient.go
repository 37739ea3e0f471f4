package db

import (
	"context"
	"time"

	"github.com/markdave123-py/Cardify/internal/models"
)

// DbClient defines all persistence operations the services and the pipeline need.
// Lookups return (nil, nil) when the row does not exist.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	GetQuotaState(ctx context.Context, userID string) (*models.QuotaState, error)
	ResetQuota(ctx context.Context, userID string, at time.Time) error
	IncrementQuota(ctx context.Context, userID string) error

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	GetDocumentDetail(ctx context.Context, id string) (*models.DocumentDetail, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.DocumentDetail, error)
	DeleteDocument(ctx context.Context, id string) error

	// Pipeline writes. Each is guarded by status = PROCESSING and reports whether a row changed.
	UpdateDocumentStep(ctx context.Context, id string, upd models.StepUpdate) (bool, error)
	SetExtractedText(ctx context.Context, id, text string) error
	FailDocument(ctx context.Context, id string, upd models.StepUpdate) (bool, error)
	CancelDocument(ctx context.Context, id string, upd models.StepUpdate) (bool, error)
	// SaveGeneratedContent writes all artifacts and the COMPLETED transition in one transaction.
	// It returns ErrInvalidState, with nothing written, when the document is no longer PROCESSING.
	SaveGeneratedContent(ctx context.Context, docID string, cards []models.Flashcard, quiz *models.Quiz, final models.StepUpdate) error

	// On-demand generation for an existing document. Appends are capped at limit and
	// return ErrInvalidState when it would be exceeded.
	AppendFlashcards(ctx context.Context, docID string, cards []models.Flashcard, limit int) error
	SaveQuiz(ctx context.Context, docID string, quiz *models.Quiz) error
	AppendQuestions(ctx context.Context, quizID string, questions []models.Question, limit int) error

	ListFlashcardsByDocument(ctx context.Context, documentID string) ([]models.Flashcard, error)
	GetFlashcardByID(ctx context.Context, id string) (*models.Flashcard, error)
	GetQuizByDocument(ctx context.Context, documentID string) (*models.Quiz, error)
	SetFlashcardEmbeddings(ctx context.Context, embeddings map[string][]float32) error
	SearchSimilarFlashcards(ctx context.Context, userID, excludeID string, queryVec []float32, limit int) ([]models.Flashcard, error)

	Close() error
}
