package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	middleware "github.com/markdave123-py/Cardify/internal/api/middlewares"
	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
	"github.com/markdave123-py/Cardify/internal/services"
)

type documentService interface {
	SubmitUpload(ctx context.Context, userID, title, fileName string, data []byte, req services.GenerationRequest) (*models.Document, error)
	SubmitText(ctx context.Context, userID, title, text string, req services.GenerationRequest) (*models.Document, error)
	QuotaStatus(ctx context.Context, userID string) (services.QuotaStatus, error)
	Get(ctx context.Context, userID, docID string) (*models.DocumentDetail, error)
	List(ctx context.Context, userID string) ([]models.DocumentDetail, error)
	Cancel(ctx context.Context, userID, docID string) error
	Delete(ctx context.Context, userID, docID string) error
	Flashcards(ctx context.Context, userID, docID string) ([]models.Flashcard, error)
	Quiz(ctx context.Context, userID, docID string) (*models.Quiz, error)
	RelatedFlashcards(ctx context.Context, userID, cardID string, limit int) ([]models.Flashcard, error)

	GenerateFlashcards(ctx context.Context, userID, docID string) ([]models.Flashcard, error)
	GenerateQuiz(ctx context.Context, userID, docID string) (*models.Quiz, error)
	AddFlashcards(ctx context.Context, userID, docID string, req services.AddFlashcardsRequest) ([]models.Flashcard, error)
	AddQuestions(ctx context.Context, userID, docID string, req services.AddQuestionsRequest) (*models.Quiz, error)
}

type DocumentHandler struct {
	docs           documentService
	maxUploadBytes int64
	log            *logger.Logger
}

func NewDocumentHandler(docs documentService, maxUploadBytes int64, log *logger.Logger) *DocumentHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	return &DocumentHandler{docs: docs, maxUploadBytes: maxUploadBytes, log: log.With("handler", "documents")}
}

// UploadDocument accepts a multipart file plus generation options and returns 202 with the new document.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "could not read file")
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		writeMessage(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxUploadBytes))
		return
	}

	req, err := generationFromForm(r)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	doc, err := h.docs.SubmitUpload(r.Context(), userID, r.FormValue("title"), header.Filename, data, req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func generationFromForm(r *http.Request) (services.GenerationRequest, error) {
	req := services.GenerationRequest{
		ContentType: r.FormValue("content_type"),
		Difficulty:  r.FormValue("difficulty"),
	}
	var err error
	if req.NumFlashcards, err = formInt(r, "num_flashcards"); err != nil {
		return req, err
	}
	if req.NumQuestions, err = formInt(r, "num_questions"); err != nil {
		return req, err
	}
	return req, nil
}

// formInt returns 0 for an absent field so the service default applies.
func formInt(r *http.Request, key string) (int, error) {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, apperrors.ErrInvalidArgument)
	}
	return n, nil
}

type textRequest struct {
	Text  string `json:"text"`
	Title string `json:"title"`
	services.GenerationRequest
}

func (h *DocumentHandler) SubmitText(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req textRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxUploadBytes)).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid body")
		return
	}

	doc, err := h.docs.SubmitText(r.Context(), userID, req.Title, req.Text, req.GenerationRequest)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) GenerationLimit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	st, err := h.docs.QuotaStatus(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	docs, err := h.docs.List(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// withDocument resolves the caller and the {id} path parameter before calling fn.
func (h *DocumentHandler) withDocument(fn func(w http.ResponseWriter, r *http.Request, userID, id string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		id := chi.URLParam(r, "id")
		if _, err := uuid.Parse(id); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid id")
			return
		}
		fn(w, r, userID, id)
	}
}

// GetDocument is the polling endpoint for a document's status and progress.
func (h *DocumentHandler) GetDocument() http.HandlerFunc {
	return h.withDocument(func(w http.ResponseWriter, r *http.Request, userID, id string) {
		det, err := h.docs.Get(r.Context(), userID, id)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, det)
	})
}

func (h *DocumentHandler) CancelDocument() http.HandlerFunc {
	return h.withDocument(func(w http.ResponseWriter, r *http.Request, userID, id string) {
		if err := h.docs.Cancel(r.Context(), userID, id); err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": models.StatusCancelled})
	})
}

func (h *DocumentHandler) DeleteDocument() http.HandlerFunc {
	return h.withDocument(func(w http.ResponseWriter, r *http.Request, userID, id string) {
		if err := h.docs.Delete(r.Context(), userID, id); err != nil {
			writeError(w, h.log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func (h *DocumentHandler) GetFlashcards() http.HandlerFunc {
	return h.withDocument(func(w http.ResponseWriter, r *http.Request, userID, id string) {
		cards, err := h.docs.Flashcards(r.Context(), userID, id)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, cards)
	})
}

func (h *DocumentHandler) GetQuiz() http.HandlerFunc {
	return h.withDocument(func(w http.ResponseWriter, r *http.Request, userID, id string) {
		quiz, err := h.docs.Quiz(r.Context(), userID, id)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, quiz)
	})
}

// RelatedFlashcards serves GET /flashcards/{id}/related?limit=N.
func (h *DocumentHandler) RelatedFlashcards() http.HandlerFunc {
	return h.withDocument(func(w http.ResponseWriter, r *http.Request, userID, id string) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				writeMessage(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		cards, err := h.docs.RelatedFlashcards(r.Context(), userID, id, limit)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusOK, cards)
	})
}

// GenerateFlashcards creates the first deck for a finished document. It runs inside the request.
func (h *DocumentHandler) GenerateFlashcards() http.HandlerFunc {
	return h.withDocument(func(w http.ResponseWriter, r *http.Request, userID, id string) {
		cards, err := h.docs.GenerateFlashcards(r.Context(), userID, id)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusCreated, cards)
	})
}

func (h *DocumentHandler) GenerateQuiz() http.HandlerFunc {
	return h.withDocument(func(w http.ResponseWriter, r *http.Request, userID, id string) {
		quiz, err := h.docs.GenerateQuiz(r.Context(), userID, id)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusCreated, quiz)
	})
}

// AddFlashcards serves POST /documents/{id}/add-flashcards with {"num_flashcards": N, "difficulty": "..."}.
func (h *DocumentHandler) AddFlashcards() http.HandlerFunc {
	return h.withDocument(func(w http.ResponseWriter, r *http.Request, userID, id string) {
		var req services.AddFlashcardsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}
		cards, err := h.docs.AddFlashcards(r.Context(), userID, id, req)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusCreated, cards)
	})
}

func (h *DocumentHandler) AddQuestions() http.HandlerFunc {
	return h.withDocument(func(w http.ResponseWriter, r *http.Request, userID, id string) {
		var req services.AddQuestionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid request body")
			return
		}
		quiz, err := h.docs.AddQuestions(r.Context(), userID, id, req)
		if err != nil {
			writeError(w, h.log, err)
			return
		}
		writeJSON(w, http.StatusCreated, quiz)
	})
}
