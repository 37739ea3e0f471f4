package services

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/markdave123-py/Cardify/internal/core"
	objectclient "github.com/markdave123-py/Cardify/internal/core/object-client"
	"github.com/markdave123-py/Cardify/internal/core/pipeline"
	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
)

const (
	SourceUpload = "upload"
	SourceText   = "text"

	defaultRelatedLimit = 5
	maxRelatedLimit     = 20
)

// Accepted upload types, keyed by sniffed MIME type, with the extension the extractor routes on.
var uploadTypes = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	GetDocumentDetail(ctx context.Context, id string) (*models.DocumentDetail, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.DocumentDetail, error)
	DeleteDocument(ctx context.Context, id string) error
	FailDocument(ctx context.Context, id string, upd models.StepUpdate) (bool, error)
	CancelDocument(ctx context.Context, id string, upd models.StepUpdate) (bool, error)
	ListFlashcardsByDocument(ctx context.Context, documentID string) ([]models.Flashcard, error)
	GetFlashcardByID(ctx context.Context, id string) (*models.Flashcard, error)
	GetQuizByDocument(ctx context.Context, documentID string) (*models.Quiz, error)
	SearchSimilarFlashcards(ctx context.Context, userID, excludeID string, queryVec []float32, limit int) ([]models.Flashcard, error)
}

type QuotaChecker interface {
	CanGenerate(ctx context.Context, userID string) (bool, int, error)
	Status(ctx context.Context, userID string) (QuotaStatus, error)
	// Increment is used by generation that runs inside the request.
	Increment(ctx context.Context, userID string) error
}

type JobSubmitter interface {
	Submit(ctx context.Context, job pipeline.Job) error
}

// QuotaExceededError carries the caller's quota so the API can report when it resets.
type QuotaExceededError struct {
	Status QuotaStatus
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s: %d/%d used, resets in %dh", apperrors.ErrQuotaExceeded, e.Status.Used, e.Status.Limit, e.Status.HoursUntilReset)
}

func (e *QuotaExceededError) Unwrap() error { return apperrors.ErrQuotaExceeded }

// GenerationRequest is what the user asked the pipeline to produce.
type GenerationRequest struct {
	ContentType   string `json:"content_type"`
	NumFlashcards int    `json:"num_flashcards"`
	Difficulty    string `json:"difficulty"`
	NumQuestions  int    `json:"num_questions"`
}

// Normalize fills defaults for zero values and rejects anything out of range.
func (r *GenerationRequest) Normalize() error {
	r.ContentType = strings.ToLower(strings.TrimSpace(r.ContentType))
	switch r.ContentType {
	case "":
		r.ContentType = models.ContentFlashcards
	case models.ContentFlashcards, models.ContentQuiz, models.ContentBoth:
	default:
		return fmt.Errorf("content_type must be flashcards, quiz or both: %w", apperrors.ErrInvalidArgument)
	}
	if r.NumFlashcards == 0 {
		r.NumFlashcards = 10
	}
	if r.NumFlashcards < 1 || r.NumFlashcards > 50 {
		return fmt.Errorf("num_flashcards must be between 1 and 50: %w", apperrors.ErrInvalidArgument)
	}
	if r.NumQuestions == 0 {
		r.NumQuestions = 5
	}
	if r.NumQuestions < 3 || r.NumQuestions > 25 {
		return fmt.Errorf("num_questions must be between 3 and 25: %w", apperrors.ErrInvalidArgument)
	}
	if strings.TrimSpace(r.Difficulty) == "" {
		r.Difficulty = "Medium"
	}
	return nil
}

func (r GenerationRequest) wantsFlashcards() bool {
	return r.ContentType == models.ContentFlashcards || r.ContentType == models.ContentBoth
}

func (r GenerationRequest) wantsQuiz() bool {
	return r.ContentType == models.ContentQuiz || r.ContentType == models.ContentBoth
}

type DocumentService struct {
	store    DocumentStore
	storage  core.ObjectClient
	quota    QuotaChecker
	jobs     JobSubmitter
	embedder core.EmbeddingProvider
	bucket   string
	log      *logger.Logger

	content   ContentStore
	generator *contentGenerator
}

func NewDocumentService(store DocumentStore, storage core.ObjectClient, quota QuotaChecker, jobs JobSubmitter, bucket string, log *logger.Logger) *DocumentService {
	return &DocumentService{
		store:   store,
		storage: storage,
		quota:   quota,
		jobs:    jobs,
		bucket:  bucket,
		log:     log.With("service", "DocumentService"),
	}
}

// WithEmbedder enables related-flashcard search for cards stored without an embedding.
func (s *DocumentService) WithEmbedder(e core.EmbeddingProvider) *DocumentService {
	s.embedder = e
	return s
}

func (s *DocumentService) checkQuota(ctx context.Context, userID string) error {
	ok, _, err := s.quota.CanGenerate(ctx, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	st, err := s.quota.Status(ctx, userID)
	if err != nil {
		return err
	}
	return &QuotaExceededError{Status: st}
}

// SubmitUpload stores the file, creates the document and queues it.
// Only PDF, PNG and JPEG content is accepted, judged by the bytes rather than the client's header.
func (s *DocumentService) SubmitUpload(ctx context.Context, userID, title, fileName string, data []byte, req GenerationRequest) (*models.Document, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, userID); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file: %w", apperrors.ErrInvalidArgument)
	}
	mt := mimetype.Detect(data)
	ext, ok := uploadTypes[mt.String()]
	if !ok {
		return nil, fmt.Errorf("unsupported file type %s: %w", mt.String(), apperrors.ErrInvalidArgument)
	}

	docID := uuid.NewString()
	name := strings.TrimSpace(title)
	if name == "" {
		name = strings.TrimSuffix(path.Base(fileName), path.Ext(fileName))
	}
	key := objectKey(userID, docID, name, ext)

	uri, err := s.storage.UploadFile(ctx, s.bucket, key, bytes.NewReader(data), mt.String())
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	doc := newDocument(docID, userID, name, SourceUpload, req)
	doc.FilePath = uri
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		if derr := s.storage.DeleteFile(ctx, s.bucket, key); derr != nil {
			s.log.Warn("orphaned upload", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, s.enqueue(ctx, doc, req)
}

// SubmitText creates a document whose extracted text is already known, so the pipeline skips extraction.
func (s *DocumentService) SubmitText(ctx context.Context, userID, title, text string, req GenerationRequest) (*models.Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty: %w", apperrors.ErrInvalidArgument)
	}
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, userID); err != nil {
		return nil, err
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = "Text input"
	}
	doc := newDocument(uuid.NewString(), userID, title, SourceText, req)
	doc.ExtractedText = &text
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	return doc, s.enqueue(ctx, doc, req)
}

func (s *DocumentService) enqueue(ctx context.Context, doc *models.Document, req GenerationRequest) error {
	job := pipeline.Job{
		DocumentID:    doc.ID,
		UserID:        doc.UserID,
		ContentType:   req.ContentType,
		NumFlashcards: req.NumFlashcards,
		Difficulty:    req.Difficulty,
		NumQuestions:  req.NumQuestions,
	}
	if err := s.jobs.Submit(ctx, job); err != nil {
		upd := models.StepUpdate{Phase: string(pipeline.PhaseFailed), Step: "could not be queued"}
		if _, ferr := s.store.FailDocument(context.WithoutCancel(ctx), doc.ID, upd); ferr != nil {
			s.log.Error("marking unqueued document failed", "document_id", doc.ID, "error", ferr)
		}
		doc.Status, doc.Phase, doc.CurrentStep = models.StatusFailed, upd.Phase, upd.Step
		return err
	}
	s.log.Info("document queued", "document_id", doc.ID, "user_id", doc.UserID, "content_type", req.ContentType)
	return nil
}

func newDocument(id, userID, name, source string, req GenerationRequest) *models.Document {
	q := pipeline.Queued()
	return &models.Document{
		ID:                  id,
		UserID:              userID,
		FileName:            name,
		SourceType:          source,
		Status:              models.StatusProcessing,
		Phase:               q.Phase,
		CurrentStep:         q.Step,
		ProcessingProgress:  q.Progress,
		GeneratesFlashcards: req.wantsFlashcards(),
		GeneratesQuizzes:    req.wantsQuiz(),
	}
}

// objectKey gives every upload a stable, URL-safe key. The extension is what extraction routes on.
func objectKey(userID, docID, name, ext string) string {
	base := slug.Make(name)
	if base == "" {
		base = "document"
	}
	if len(base) > 100 {
		base = base[:100]
	}
	return path.Join("users", userID, "documents", docID, base+ext)
}

func (s *DocumentService) QuotaStatus(ctx context.Context, userID string) (QuotaStatus, error) {
	return s.quota.Status(ctx, userID)
}

// Get returns the polling view of one of the user's documents.
func (s *DocumentService) Get(ctx context.Context, userID, docID string) (*models.DocumentDetail, error) {
	det, err := s.store.GetDocumentDetail(ctx, docID)
	if err != nil {
		return nil, err
	}
	if det == nil {
		return nil, apperrors.ErrNotFound
	}
	if det.UserID != userID {
		return nil, apperrors.ErrForbidden
	}
	return det, nil
}

func (s *DocumentService) List(ctx context.Context, userID string) ([]models.DocumentDetail, error) {
	docs, err := s.store.ListDocumentsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.DocumentDetail{}
	}
	return docs, nil
}

func (s *DocumentService) owned(ctx context.Context, userID, docID string) (*models.Document, error) {
	doc, err := s.store.GetDocumentByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperrors.ErrNotFound
	}
	if doc.UserID != userID {
		return nil, apperrors.ErrForbidden
	}
	return doc, nil
}

// Cancel stops a PROCESSING document. The running pipeline notices at its next step.
func (s *DocumentService) Cancel(ctx context.Context, userID, docID string) error {
	doc, err := s.owned(ctx, userID, docID)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusProcessing {
		return fmt.Errorf("document is %s: %w", doc.Status, apperrors.ErrInvalidState)
	}
	ok, err := s.store.CancelDocument(ctx, docID, pipeline.Cancelled())
	if err != nil {
		return err
	}
	if !ok {
		// Finished between the read and the update.
		return fmt.Errorf("document is no longer processing: %w", apperrors.ErrInvalidState)
	}
	s.log.Info("document cancelled", "document_id", docID)
	return nil
}

// Delete removes the document with its flashcards and quiz. The stored file is removed best-effort.
func (s *DocumentService) Delete(ctx context.Context, userID, docID string) error {
	doc, err := s.owned(ctx, userID, docID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if doc.FilePath == "" {
		return nil
	}
	bucket, key, err := objectclient.ParseObjectURI(doc.FilePath)
	if err != nil {
		s.log.Warn("unrecognised file path", "document_id", docID, "path", doc.FilePath)
		return nil
	}
	if err := s.storage.DeleteFile(ctx, bucket, key); err != nil {
		s.log.Warn("deleting stored file", "document_id", docID, "key", key, "error", err)
	}
	return nil
}

func (s *DocumentService) Flashcards(ctx context.Context, userID, docID string) ([]models.Flashcard, error) {
	if _, err := s.owned(ctx, userID, docID); err != nil {
		return nil, err
	}
	cards, err := s.store.ListFlashcardsByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if cards == nil {
		cards = []models.Flashcard{}
	}
	return cards, nil
}

func (s *DocumentService) Quiz(ctx context.Context, userID, docID string) (*models.Quiz, error) {
	if _, err := s.owned(ctx, userID, docID); err != nil {
		return nil, err
	}
	quiz, err := s.store.GetQuizByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, apperrors.ErrNotFound
	}
	return quiz, nil
}

// RelatedFlashcards finds the user's cards closest in meaning to the given card.
func (s *DocumentService) RelatedFlashcards(ctx context.Context, userID, cardID string, limit int) ([]models.Flashcard, error) {
	if limit <= 0 {
		limit = defaultRelatedLimit
	}
	if limit > maxRelatedLimit {
		limit = maxRelatedLimit
	}
	card, err := s.store.GetFlashcardByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, apperrors.ErrNotFound
	}
	if _, err := s.owned(ctx, userID, card.DocumentID); err != nil {
		return nil, err
	}

	vec := card.Embedding
	if len(vec) == 0 {
		if s.embedder == nil {
			return []models.Flashcard{}, nil
		}
		vecs, err := s.embedder.EmbedTexts(ctx, []string{card.Front})
		if err != nil {
			return nil, fmt.Errorf("embed flashcard: %w", err)
		}
		if len(vecs) == 0 {
			return []models.Flashcard{}, nil
		}
		vec = vecs[0]
	}

	related, err := s.store.SearchSimilarFlashcards(ctx, userID, card.ID, vec, limit)
	if err != nil {
		return nil, err
	}
	if related == nil {
		related = []models.Flashcard{}
	}
	return related, nil
}
