package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/Cardify/internal/api/middlewares"
	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
	"github.com/markdave123-py/Cardify/internal/services"
)

const docID = "0b6f3c3e-5d43-4a4e-9a53-3b1b2f0b6a11"

type fakeDocs struct {
	submitErr  error
	cancelErr  error
	lastUpload struct {
		title, fileName string
		size            int
		req             services.GenerationRequest
	}
	lastText services.GenerationRequest
	genErr   error
	lastAdd  services.AddFlashcardsRequest
}

func (f *fakeDocs) SubmitUpload(ctx context.Context, userID, title, fileName string, data []byte, req services.GenerationRequest) (*models.Document, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.lastUpload.title, f.lastUpload.fileName, f.lastUpload.size, f.lastUpload.req = title, fileName, len(data), req
	return &models.Document{ID: docID, UserID: userID, Status: models.StatusProcessing}, nil
}

func (f *fakeDocs) SubmitText(ctx context.Context, userID, title, text string, req services.GenerationRequest) (*models.Document, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.lastText = req
	return &models.Document{ID: docID, UserID: userID, Status: models.StatusProcessing}, nil
}

func (f *fakeDocs) QuotaStatus(ctx context.Context, userID string) (services.QuotaStatus, error) {
	return services.QuotaStatus{Used: 2, Remaining: 8, Limit: 10, HoursUntilReset: 20}, nil
}

func (f *fakeDocs) Get(ctx context.Context, userID, id string) (*models.DocumentDetail, error) {
	if userID != "owner" {
		return nil, apperrors.ErrForbidden
	}
	return &models.DocumentDetail{Document: models.Document{ID: id, Status: models.StatusProcessing, CurrentStep: "generating quiz", ProcessingProgress: 70}}, nil
}

func (f *fakeDocs) List(ctx context.Context, userID string) ([]models.DocumentDetail, error) {
	return []models.DocumentDetail{}, nil
}

func (f *fakeDocs) Cancel(ctx context.Context, userID, id string) error { return f.cancelErr }
func (f *fakeDocs) Delete(ctx context.Context, userID, id string) error { return nil }

func (f *fakeDocs) Flashcards(ctx context.Context, userID, id string) ([]models.Flashcard, error) {
	return []models.Flashcard{{ID: "c1"}}, nil
}

func (f *fakeDocs) Quiz(ctx context.Context, userID, id string) (*models.Quiz, error) {
	return nil, apperrors.ErrNotFound
}

func (f *fakeDocs) RelatedFlashcards(ctx context.Context, userID, cardID string, limit int) ([]models.Flashcard, error) {
	return []models.Flashcard{}, nil
}

func (f *fakeDocs) GenerateFlashcards(ctx context.Context, userID, id string) ([]models.Flashcard, error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	return []models.Flashcard{{ID: "c1", DocumentID: id}}, nil
}

func (f *fakeDocs) GenerateQuiz(ctx context.Context, userID, id string) (*models.Quiz, error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &models.Quiz{ID: "q1", DocumentID: id}, nil
}

func (f *fakeDocs) AddFlashcards(ctx context.Context, userID, id string, req services.AddFlashcardsRequest) ([]models.Flashcard, error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	f.lastAdd = req
	return []models.Flashcard{{ID: "c2", DocumentID: id}}, nil
}

func (f *fakeDocs) AddQuestions(ctx context.Context, userID, id string, req services.AddQuestionsRequest) (*models.Quiz, error) {
	if f.genErr != nil {
		return nil, f.genErr
	}
	return &models.Quiz{ID: "q1", DocumentID: id}, nil
}

func newTestRouter(docs *fakeDocs) http.Handler {
	h := NewDocumentHandler(docs, 1<<20, logger.Nop())
	r := chi.NewRouter()
	r.Post("/documents/upload", h.UploadDocument)
	r.Post("/documents/text", h.SubmitText)
	r.Get("/documents/generation-limit", h.GenerationLimit)
	r.Get("/documents/{id}", h.GetDocument())
	r.Post("/documents/{id}/cancel", h.CancelDocument())
	r.Delete("/documents/{id}", h.DeleteDocument())
	r.Get("/documents/{id}/quiz", h.GetQuiz())
	r.Get("/flashcards/{id}/related", h.RelatedFlashcards())
	r.Post("/documents/{id}/generate-flashcards", h.GenerateFlashcards())
	r.Post("/documents/{id}/generate-quiz", h.GenerateQuiz())
	r.Post("/documents/{id}/add-flashcards", h.AddFlashcards())
	r.Post("/documents/{id}/add-questions", h.AddQuestions())
	return r
}

func do(t *testing.T, router http.Handler, req *http.Request, userID string) *httptest.ResponseRecorder {
	t.Helper()
	if userID != "" {
		req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSubmitTextReturnsAccepted(t *testing.T) {
	docs := &fakeDocs{}
	body := `{"text":"Mitochondria are the powerhouse of the cell","title":"bio","content_type":"flashcards","num_flashcards":5}`
	rec := do(t, newTestRouter(docs), httptest.NewRequest(http.MethodPost, "/documents/text", strings.NewReader(body)), "owner")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: want=202 got=%d body=%s", rec.Code, rec.Body.String())
	}
	if docs.lastText.NumFlashcards != 5 || docs.lastText.ContentType != "flashcards" {
		t.Fatalf("request not decoded: %+v", docs.lastText)
	}
}

func TestSubmitQuotaExceededIs429(t *testing.T) {
	docs := &fakeDocs{submitErr: &services.QuotaExceededError{Status: services.QuotaStatus{Used: 10, Limit: 10, HoursUntilReset: 3}}}
	rec := do(t, newTestRouter(docs), httptest.NewRequest(http.MethodPost, "/documents/text", strings.NewReader(`{"text":"x"}`)), "owner")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status: want=429 got=%d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["limit"] != float64(10) || body["used"] != float64(10) || body["hours_until_reset"] != float64(3) {
		t.Fatalf("429 body: %v", body)
	}
}

func TestUploadPassesFormFields(t *testing.T) {
	docs := &fakeDocs{}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "notes.pdf")
	_, _ = fw.Write([]byte("%PDF-1.4 test"))
	_ = mw.WriteField("title", "Biology")
	_ = mw.WriteField("content_type", "both")
	_ = mw.WriteField("num_questions", "7")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, newTestRouter(docs), req, "owner")

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: want=202 got=%d body=%s", rec.Code, rec.Body.String())
	}
	got := docs.lastUpload
	if got.title != "Biology" || got.fileName != "notes.pdf" || got.size != len("%PDF-1.4 test") {
		t.Fatalf("upload: %+v", got)
	}
	if got.req.ContentType != "both" || got.req.NumQuestions != 7 || got.req.NumFlashcards != 0 {
		t.Fatalf("generation request: %+v", got.req)
	}
}

func TestUploadRejectsNonNumericCount(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "notes.pdf")
	_, _ = fw.Write([]byte("%PDF-1.4"))
	_ = mw.WriteField("num_flashcards", "ten")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(t, newTestRouter(&fakeDocs{}), req, "owner")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", rec.Code)
	}
}

func TestGetDocumentStatusCodes(t *testing.T) {
	router := newTestRouter(&fakeDocs{})
	cases := []struct {
		path, user string
		want       int
	}{
		{"/documents/" + docID, "owner", http.StatusOK},
		{"/documents/" + docID, "intruder", http.StatusForbidden},
		{"/documents/not-a-uuid", "owner", http.StatusBadRequest},
		{"/documents/" + docID, "", http.StatusUnauthorized},
	}
	for _, c := range cases {
		rec := do(t, router, httptest.NewRequest(http.MethodGet, c.path, nil), c.user)
		if rec.Code != c.want {
			t.Fatalf("%s as %q: want=%d got=%d", c.path, c.user, c.want, rec.Code)
		}
	}
}

func TestCancelNotProcessingIs400(t *testing.T) {
	docs := &fakeDocs{cancelErr: fmt.Errorf("document is COMPLETED: %w", apperrors.ErrInvalidState)}
	rec := do(t, newTestRouter(docs), httptest.NewRequest(http.MethodPost, "/documents/"+docID+"/cancel", nil), "owner")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", rec.Code)
	}

	docs.cancelErr = nil
	rec = do(t, newTestRouter(docs), httptest.NewRequest(http.MethodPost, "/documents/"+docID+"/cancel", nil), "owner")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: want=200 got=%d", rec.Code)
	}
}

func TestDeleteAndMissingQuiz(t *testing.T) {
	router := newTestRouter(&fakeDocs{})
	if rec := do(t, router, httptest.NewRequest(http.MethodDelete, "/documents/"+docID, nil), "owner"); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: want=204 got=%d", rec.Code)
	}
	if rec := do(t, router, httptest.NewRequest(http.MethodGet, "/documents/"+docID+"/quiz", nil), "owner"); rec.Code != http.StatusNotFound {
		t.Fatalf("quiz: want=404 got=%d", rec.Code)
	}
}

func TestRelatedRejectsBadLimit(t *testing.T) {
	rec := do(t, newTestRouter(&fakeDocs{}), httptest.NewRequest(http.MethodGet, "/flashcards/"+docID+"/related?limit=0", nil), "owner")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: want=400 got=%d", rec.Code)
	}
}

func TestUnknownErrorIsHidden(t *testing.T) {
	docs := &fakeDocs{submitErr: fmt.Errorf("pq: connection refused")}
	rec := do(t, newTestRouter(docs), httptest.NewRequest(http.MethodPost, "/documents/text", strings.NewReader(`{"text":"x"}`)), "owner")
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("want opaque 500 got=%d %s", rec.Code, rec.Body.String())
	}
}

func TestOnDemandGenerationReturnsCreated(t *testing.T) {
	docs := &fakeDocs{}
	router := newTestRouter(docs)

	for _, path := range []string{"generate-flashcards", "generate-quiz", "add-questions"} {
		rec := do(t, router, httptest.NewRequest(http.MethodPost, "/documents/"+docID+"/"+path, strings.NewReader(`{"num_questions":2}`)), "owner")
		if rec.Code != http.StatusCreated {
			t.Fatalf("%s: want=201 got=%d body=%s", path, rec.Code, rec.Body.String())
		}
	}

	rec := do(t, router, httptest.NewRequest(http.MethodPost, "/documents/"+docID+"/add-flashcards", strings.NewReader(`{"num_flashcards":4,"difficulty":"Hard"}`)), "owner")
	if rec.Code != http.StatusCreated {
		t.Fatalf("add-flashcards: want=201 got=%d", rec.Code)
	}
	if docs.lastAdd.NumFlashcards != 4 || docs.lastAdd.Difficulty != "Hard" {
		t.Fatalf("request not decoded: %+v", docs.lastAdd)
	}
}

func TestOnDemandGenerationErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"over quota", &services.QuotaExceededError{Status: services.QuotaStatus{Used: 10, Limit: 10, HoursUntilReset: 2}}, http.StatusTooManyRequests},
		{"no text", fmt.Errorf("document has no text: %w", apperrors.ErrInvalidArgument), http.StatusBadRequest},
		{"deck full", fmt.Errorf("deck full: %w", apperrors.ErrInvalidState), http.StatusBadRequest},
		{"not owner", apperrors.ErrForbidden, http.StatusForbidden},
	}
	for _, c := range cases {
		router := newTestRouter(&fakeDocs{genErr: c.err})
		rec := do(t, router, httptest.NewRequest(http.MethodPost, "/documents/"+docID+"/add-flashcards", strings.NewReader(`{"num_flashcards":3}`)), "owner")
		if rec.Code != c.want {
			t.Fatalf("%s: want=%d got=%d", c.name, c.want, rec.Code)
		}
	}

	rec := do(t, newTestRouter(&fakeDocs{}), httptest.NewRequest(http.MethodPost, "/documents/"+docID+"/add-questions", strings.NewReader(`{`)), "owner")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body: want=400 got=%d", rec.Code)
	}
}
