package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/markdave123-py/Cardify/internal/core/extraction"
	"github.com/markdave123-py/Cardify/internal/core/generation"
	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
)

type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]*models.Document
	steps    []models.StepUpdate
	cards    map[string][]models.Flashcard
	quizzes  map[string]*models.Quiz
	embedded map[string][]float32
	saveErr  error
	// onStep runs after a step write lands, e.g. to simulate a cancel arriving mid-run.
	onStep func(doc *models.Document, upd models.StepUpdate)
}

func newFakeStore(docs ...*models.Document) *fakeStore {
	s := &fakeStore{
		docs:     map[string]*models.Document{},
		cards:    map[string][]models.Flashcard{},
		quizzes:  map[string]*models.Quiz{},
		embedded: map[string][]float32{},
	}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *fakeStore) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) UpdateDocumentStep(ctx context.Context, id string, upd models.StepUpdate) (bool, error) {
	s.mu.Lock()
	d := s.docs[id]
	if d == nil || d.Status != models.StatusProcessing {
		s.mu.Unlock()
		return false, nil
	}
	d.Phase, d.CurrentStep, d.ProcessingProgress = upd.Phase, upd.Step, upd.Progress
	s.steps = append(s.steps, upd)
	hook := s.onStep
	s.mu.Unlock()
	if hook != nil {
		hook(d, upd)
	}
	return true, nil
}

func (s *fakeStore) SetExtractedText(ctx context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id].ExtractedText = &text
	return nil
}

func (s *fakeStore) FailDocument(ctx context.Context, id string, upd models.StepUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[id]
	if d == nil || d.Status != models.StatusProcessing {
		return false, nil
	}
	d.Status = models.StatusFailed
	d.Phase, d.CurrentStep, d.ProcessingProgress = upd.Phase, upd.Step, upd.Progress
	return true, nil
}

func (s *fakeStore) SaveGeneratedContent(ctx context.Context, docID string, cards []models.Flashcard, quiz *models.Quiz, final models.StepUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	d := s.docs[docID]
	if d.Status != models.StatusProcessing {
		return apperrors.ErrInvalidState
	}
	s.cards[docID] = cards
	if quiz != nil {
		s.quizzes[docID] = quiz
	}
	d.Status = models.StatusCompleted
	d.Phase, d.CurrentStep, d.ProcessingProgress = final.Phase, final.Step, final.Progress
	return nil
}

func (s *fakeStore) SetFlashcardEmbeddings(ctx context.Context, embeddings map[string][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range embeddings {
		s.embedded[k] = v
	}
	return nil
}

func (s *fakeStore) doc(id string) models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.docs[id]
}

func (s *fakeStore) cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id].Status = models.StatusCancelled
}

type fakeFiles struct {
	data  []byte
	calls int
}

func (f *fakeFiles) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	f.calls++
	return f.data, nil
}

type fakeExtractor struct {
	text  string
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, fileName string, data []byte) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeGenerator struct {
	cardsErr  error
	quizErr   error
	cardCalls int
	quizCalls int
	panicOn   int
}

func (g *fakeGenerator) GenerateFlashcards(ctx context.Context, text string, n int, d generation.Difficulty) ([]generation.FlashcardDraft, error) {
	g.cardCalls++
	if g.panicOn == g.cardCalls {
		panic("boom")
	}
	if g.cardsErr != nil {
		return nil, g.cardsErr
	}
	out := make([]generation.FlashcardDraft, n)
	for i := range out {
		out[i] = generation.FlashcardDraft{Front: "front", Back: "back", Type: models.CardConcept}
	}
	return out, nil
}

func (g *fakeGenerator) GenerateQuiz(ctx context.Context, text string, n int, d generation.Difficulty) (*generation.QuizDraft, error) {
	g.quizCalls++
	if g.quizErr != nil {
		return nil, g.quizErr
	}
	q := &generation.QuizDraft{Title: "quiz"}
	for i := 0; i < n; i++ {
		q.Questions = append(q.Questions, generation.QuestionDraft{
			Text: "q",
			Answers: []generation.AnswerDraft{
				{Text: "right", IsCorrect: true},
				{Text: "wrong"},
				{Text: "also wrong"},
			},
		})
	}
	return q, nil
}

type fakeQuota struct {
	mu    sync.Mutex
	count map[string]int
}

func (q *fakeQuota) Increment(ctx context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == nil {
		q.count = map[string]int{}
	}
	q.count[userID]++
	return nil
}

func (q *fakeQuota) get(userID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count[userID]
}

type fakeEmbedder struct{ dim int }

func (e *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

type panicEmbedder struct{}

func (panicEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	panic("embedding client crashed")
}

// durableQueue behaves like a queue that survives restarts.
type durableQueue struct{ *MemoryQueue }

func (durableQueue) Durable() bool { return true }

type brokenQueue struct{}

func (brokenQueue) Push(ctx context.Context, job Job) error { return errors.New("redis down") }
func (brokenQueue) Pop(ctx context.Context) (Job, error)    { return Job{}, errors.New("redis down") }
func (brokenQueue) Durable() bool                           { return true }
func (brokenQueue) Close() error                            { return nil }

type harness struct {
	store  *fakeStore
	files  *fakeFiles
	ext    *fakeExtractor
	gen    *fakeGenerator
	quota  *fakeQuota
	sleeps []time.Duration
	p      *Pipeline
}

func newHarness(t *testing.T, doc *models.Document, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store: newFakeStore(doc),
		files: &fakeFiles{data: []byte("%PDF-1.4")},
		ext:   &fakeExtractor{text: "Photosynthesis converts light into chemical energy."},
		gen:   &fakeGenerator{},
		quota: &fakeQuota{},
	}
	opts = append([]Option{
		WithSleep(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	}, opts...)
	h.p = New(h.store, h.files, h.ext, h.gen, h.quota, NewMemoryQueue(4), cfg, logger.Nop(), opts...)
	return h
}

func uploadDoc() *models.Document {
	return &models.Document{
		ID:         "doc-1",
		UserID:     "user-1",
		FileName:   "notes.pdf",
		FilePath:   "s3://bucket/uploads/user-1/notes.pdf",
		SourceType: "upload",
		Status:     models.StatusProcessing,
		Phase:      string(PhaseQueued),
	}
}

func textDoc(text string) *models.Document {
	return &models.Document{
		ID:            "doc-1",
		UserID:        "user-1",
		FileName:      "pasted",
		SourceType:    "text",
		Status:        models.StatusProcessing,
		Phase:         string(PhaseQueued),
		ExtractedText: &text,
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 1
	cfg.EmbedDim = 4
	return cfg
}

func TestRunTextSubmissionCompletes(t *testing.T) {
	h := newHarness(t, textDoc("Cells are the basic unit of life."), testConfig())

	err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 5})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	d := h.store.doc("doc-1")
	if d.Status != models.StatusCompleted {
		t.Fatalf("status: want=%s got=%s", models.StatusCompleted, d.Status)
	}
	if d.ProcessingProgress != 100 || d.CurrentStep != "done" {
		t.Fatalf("final step: got progress=%d step=%q", d.ProcessingProgress, d.CurrentStep)
	}
	if got := len(h.store.cards["doc-1"]); got != 5 {
		t.Fatalf("flashcards: want=5 got=%d", got)
	}
	if h.ext.calls != 0 || h.files.calls != 0 {
		t.Fatalf("text submission should skip extraction, got extract=%d fetch=%d", h.ext.calls, h.files.calls)
	}
	if got := h.quota.get("user-1"); got != 1 {
		t.Fatalf("quota: want=1 got=%d", got)
	}
}

func TestRunUploadStepsInOrder(t *testing.T) {
	h := newHarness(t, uploadDoc(), testConfig())

	err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentBoth, NumFlashcards: 3, NumQuestions: 4})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []Phase{PhaseExtracting, PhaseGeneratingFlashcards, PhaseGeneratingQuiz, PhasePersisting}
	if len(h.store.steps) != len(want) {
		t.Fatalf("steps: want=%d got=%d (%v)", len(want), len(h.store.steps), h.store.steps)
	}
	prev := 0
	for i, ph := range want {
		got := h.store.steps[i]
		if got.Phase != string(ph) || got.Step != ph.Label() {
			t.Fatalf("step %d: want=%s got=%+v", i, ph, got)
		}
		if got.Progress <= prev {
			t.Fatalf("progress must increase: %d after %d", got.Progress, prev)
		}
		prev = got.Progress
	}
	d := h.store.doc("doc-1")
	if d.ExtractedText == nil || *d.ExtractedText == "" {
		t.Fatalf("extracted text not stored")
	}
	quiz := h.store.quizzes["doc-1"]
	if quiz == nil || len(quiz.Questions) != 4 {
		t.Fatalf("quiz not stored: %+v", quiz)
	}
	for _, q := range quiz.Questions {
		correct := 0
		for _, a := range q.Answers {
			if a.IsCorrect {
				correct++
			}
		}
		if correct != 1 {
			t.Fatalf("question %d: want one correct answer got=%d", q.Position, correct)
		}
	}
}

func TestRunSkipsCancelledDocument(t *testing.T) {
	doc := uploadDoc()
	doc.Status = models.StatusCancelled
	h := newHarness(t, doc, testConfig())

	if err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 5}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.ext.calls != 0 || h.gen.cardCalls != 0 || len(h.store.steps) != 0 {
		t.Fatalf("cancelled document touched: extract=%d gen=%d steps=%d", h.ext.calls, h.gen.cardCalls, len(h.store.steps))
	}
	if got := h.store.doc("doc-1").Status; got != models.StatusCancelled {
		t.Fatalf("status: want=%s got=%s", models.StatusCancelled, got)
	}
}

func TestRunRetriesThenFails(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.RetryDelay = 5 * time.Second
	h := newHarness(t, uploadDoc(), cfg)
	h.ext.text = ""
	h.ext.err = errors.New("corrupt pdf")

	err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 5})
	if err == nil {
		t.Fatalf("expected error")
	}
	if h.ext.calls != 4 {
		t.Fatalf("attempts: want=4 got=%d", h.ext.calls)
	}
	if len(h.sleeps) != 3 || h.sleeps[0] != 5*time.Second {
		t.Fatalf("sleeps: want 3x5s got=%v", h.sleeps)
	}
	var retries []string
	for _, s := range h.store.steps {
		if strings.HasPrefix(s.Step, "attempt ") {
			retries = append(retries, s.Step)
		}
	}
	if len(retries) != 3 || !strings.HasPrefix(retries[0], "attempt 1/4 failed") || !strings.HasPrefix(retries[2], "attempt 3/4 failed") {
		t.Fatalf("retry labels: %v", retries)
	}
	d := h.store.doc("doc-1")
	if d.Status != models.StatusFailed {
		t.Fatalf("status: want=%s got=%s", models.StatusFailed, d.Status)
	}
	if !strings.HasPrefix(d.CurrentStep, "failed after 4 attempts") || !strings.Contains(d.CurrentStep, "corrupt pdf") {
		t.Fatalf("failure step: %q", d.CurrentStep)
	}
	if got := h.quota.get("user-1"); got != 0 {
		t.Fatalf("quota must not move on failure, got=%d", got)
	}
}

func TestRunCorruptPDFFailsWithoutQuota(t *testing.T) {
	h := newHarness(t, uploadDoc(), testConfig())
	h.files.data = []byte("this is not a pdf at all")
	h.p.extractor = extraction.NewRegistry(extraction.NewPDFExtractor(false), nil)

	if err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 5}); err == nil {
		t.Fatalf("expected error")
	}
	if h.files.calls != 4 || h.gen.cardCalls != 0 {
		t.Fatalf("attempts: fetch=%d generate=%d", h.files.calls, h.gen.cardCalls)
	}
	d := h.store.doc("doc-1")
	if d.Status != models.StatusFailed || !strings.Contains(d.CurrentStep, "extract") {
		t.Fatalf("want FAILED citing extraction, got status=%s step=%q", d.Status, d.CurrentStep)
	}
	if got := h.quota.get("user-1"); got != 0 {
		t.Fatalf("quota: want=0 got=%d", got)
	}
}

func TestRunPermanentErrorSkipsRetries(t *testing.T) {
	h := newHarness(t, uploadDoc(), testConfig())
	h.ext.err = apperrors.Permanent(errors.New("unsupported file type"))

	if err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 5}); err == nil {
		t.Fatalf("expected error")
	}
	if h.ext.calls != 1 || len(h.sleeps) != 0 {
		t.Fatalf("permanent error retried: calls=%d sleeps=%d", h.ext.calls, len(h.sleeps))
	}
	if got := h.store.doc("doc-1").CurrentStep; !strings.HasPrefix(got, "failed after 1 attempt:") {
		t.Fatalf("failure step: %q", got)
	}
}

func TestRunRetryPermanentWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.RetryPermanent = true
	h := newHarness(t, uploadDoc(), cfg)
	h.ext.err = apperrors.Permanent(errors.New("unsupported file type"))

	_ = h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 5})
	if h.ext.calls != 2 {
		t.Fatalf("attempts: want=2 got=%d", h.ext.calls)
	}
}

func TestRunCancelMidRunIsNotOverwritten(t *testing.T) {
	h := newHarness(t, uploadDoc(), testConfig())
	h.store.onStep = func(doc *models.Document, upd models.StepUpdate) {
		if upd.Phase == string(PhaseGeneratingFlashcards) {
			h.store.cancel(doc.ID)
		}
	}

	if err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 5}); err != nil {
		t.Fatalf("run: %v", err)
	}
	d := h.store.doc("doc-1")
	if d.Status != models.StatusCancelled {
		t.Fatalf("status: want=%s got=%s", models.StatusCancelled, d.Status)
	}
	if len(h.store.cards["doc-1"]) != 0 {
		t.Fatalf("cancelled run must not persist flashcards")
	}
	if got := h.quota.get("user-1"); got != 0 {
		t.Fatalf("quota: want=0 got=%d", got)
	}
}

func TestRunSaveFailureRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	h := newHarness(t, textDoc("Some source text."), cfg)
	h.store.saveErr = errors.New("connection reset")

	if err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 2}); err == nil {
		t.Fatalf("expected error")
	}
	if h.gen.cardCalls != 2 {
		t.Fatalf("attempts: want=2 got=%d", h.gen.cardCalls)
	}
	if len(h.store.cards["doc-1"]) != 0 {
		t.Fatalf("failed save must leave no flashcards")
	}
	if got := h.store.doc("doc-1").Status; got != models.StatusFailed {
		t.Fatalf("status: want=%s got=%s", models.StatusFailed, got)
	}
}

func TestRunQuizErrorKeepsFlashcards(t *testing.T) {
	h := newHarness(t, textDoc("Some source text."), testConfig())
	h.gen.quizErr = errors.New("model overloaded")

	if err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentBoth, NumFlashcards: 3, NumQuestions: 3}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(h.store.cards["doc-1"]); got != 3 {
		t.Fatalf("flashcards: want=3 got=%d", got)
	}
	if h.store.quizzes["doc-1"] != nil {
		t.Fatalf("quiz should be absent")
	}
}

func TestRunQuizOnlyErrorFailsAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	h := newHarness(t, textDoc("Some source text."), cfg)
	h.gen.quizErr = errors.New("model overloaded")

	err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentQuiz, NumQuestions: 3})
	if err == nil || !strings.Contains(h.store.doc("doc-1").CurrentStep, "model overloaded") {
		t.Fatalf("want quiz error recorded, got err=%v step=%q", err, h.store.doc("doc-1").CurrentStep)
	}
}

func TestRunNoContentFails(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 0
	h := newHarness(t, textDoc("Some source text."), cfg)

	err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 0})
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("want ErrNoContent got=%v", err)
	}
}

func TestRunRecoversPanic(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	h := newHarness(t, textDoc("Some source text."), cfg)
	h.gen.panicOn = 1

	if err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 2}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := h.store.doc("doc-1").Status; got != models.StatusCompleted {
		t.Fatalf("status: want=%s got=%s", models.StatusCompleted, got)
	}
	if !strings.Contains(h.store.steps[1].Step, "panic: boom") {
		t.Fatalf("retry step should carry the panic: %+v", h.store.steps)
	}
}

func TestRunStoresEmbeddings(t *testing.T) {
	h := newHarness(t, textDoc("Some source text."), testConfig(), WithEmbedder(&fakeEmbedder{dim: 4}))

	if err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 3}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(h.store.embedded); got != 3 {
		t.Fatalf("embeddings: want=3 got=%d", got)
	}
}

func TestRunIgnoresWrongEmbeddingSize(t *testing.T) {
	h := newHarness(t, textDoc("Some source text."), testConfig(), WithEmbedder(&fakeEmbedder{dim: 3}))

	if err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 3}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := len(h.store.embedded); got != 0 {
		t.Fatalf("embeddings: want=0 got=%d", got)
	}
}

func TestWorkersProcessSubmittedJobs(t *testing.T) {
	h := newHarness(t, textDoc("Some source text."), testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	h.p.Start(ctx)

	if err := h.p.Submit(ctx, Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 2}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.store.doc("doc-1").Status != models.StatusCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("job not processed in time")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	waitCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := h.p.Wait(waitCtx); err != nil {
		t.Fatalf("workers did not stop: %v", err)
	}
}

func TestMemoryQueuePopHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Pop(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled got=%v", err)
	}
}

func TestRunEmbedderPanicStillCountsQuota(t *testing.T) {
	h := newHarness(t, textDoc("Some source text."), testConfig(), WithEmbedder(panicEmbedder{}))

	if err := h.p.Run(context.Background(), Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 5}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := h.store.doc("doc-1").Status; got != models.StatusCompleted {
		t.Fatalf("status: want=%s got=%s", models.StatusCompleted, got)
	}
	if h.gen.cardCalls != 1 || len(h.sleeps) != 0 {
		t.Fatalf("completed run was retried: generate=%d sleeps=%d", h.gen.cardCalls, len(h.sleeps))
	}
	if got := h.quota.get("user-1"); got != 1 {
		t.Fatalf("quota: want=1 got=%d", got)
	}
}

func TestRunInterruptedRetryWaitFailsDocument(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, uploadDoc(), cfg, WithSleep(func(wait context.Context, d time.Duration) error {
		cancel()
		return sleepCtx(wait, time.Hour)
	}))
	h.ext.err = errors.New("vision unavailable")

	err := h.p.Run(ctx, Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 5})
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("want ErrInterrupted got=%v", err)
	}
	if h.ext.calls != 1 {
		t.Fatalf("attempts: want=1 got=%d", h.ext.calls)
	}
	d := h.store.doc("doc-1")
	if d.Status != models.StatusFailed || !strings.Contains(d.CurrentStep, "interrupted") {
		t.Fatalf("want FAILED as interrupted, got status=%s step=%q", d.Status, d.CurrentStep)
	}
}

func TestRunInterruptedRetryWaitRequeuesOnDurableQueue(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, uploadDoc(), cfg, WithSleep(func(wait context.Context, d time.Duration) error {
		cancel()
		return sleepCtx(wait, time.Hour)
	}))
	q := durableQueue{NewMemoryQueue(1)}
	h.p.queue = q
	h.ext.err = errors.New("vision unavailable")

	job := Job{DocumentID: "doc-1", UserID: "user-1", ContentType: models.ContentFlashcards, NumFlashcards: 5}
	if err := h.p.Run(ctx, job); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := h.store.doc("doc-1").Status; got != models.StatusProcessing {
		t.Fatalf("status: want=%s got=%s", models.StatusProcessing, got)
	}
	popCtx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	got, err := q.Pop(popCtx)
	if err != nil || got != job {
		t.Fatalf("requeued job: want=%+v got=%+v err=%v", job, got, err)
	}
}

func TestWorkerStopsDuringDequeueBackoff(t *testing.T) {
	h := newHarness(t, textDoc("Some source text."), testConfig())
	h.p.queue = brokenQueue{}
	ctx, cancel := context.WithCancel(context.Background())
	h.p.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	cancel()
	waitCtx, stop := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer stop()
	if err := h.p.Wait(waitCtx); err != nil {
		t.Fatalf("worker kept sleeping after shutdown: %v", err)
	}
}
