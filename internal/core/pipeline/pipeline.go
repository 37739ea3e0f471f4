package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/markdave123-py/Cardify/internal/core"
	"github.com/markdave123-py/Cardify/internal/core/generation"
	objectclient "github.com/markdave123-py/Cardify/internal/core/object-client"
	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
	"github.com/markdave123-py/Cardify/internal/pkg/logger"
)

// ErrNoContent is returned when no requested kind produced anything to persist.
var ErrNoContent = apperrors.New("AI returned no valid content")

// errStopped means the document left PROCESSING while the run was between steps.
var errStopped = apperrors.New("document no longer processing")

// ErrInterrupted is recorded when shutdown lands during a retry wait and the job cannot be requeued.
var ErrInterrupted = apperrors.New("interrupted by shutdown")

// Store is the persistence the pipeline writes through.
type Store interface {
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	UpdateDocumentStep(ctx context.Context, id string, upd models.StepUpdate) (bool, error)
	SetExtractedText(ctx context.Context, id, text string) error
	FailDocument(ctx context.Context, id string, upd models.StepUpdate) (bool, error)
	SaveGeneratedContent(ctx context.Context, docID string, cards []models.Flashcard, quiz *models.Quiz, final models.StepUpdate) error
	SetFlashcardEmbeddings(ctx context.Context, embeddings map[string][]float32) error
}

// ContentGenerator produces drafts from text.
type ContentGenerator interface {
	GenerateFlashcards(ctx context.Context, text string, n int, difficulty generation.Difficulty) ([]generation.FlashcardDraft, error)
	GenerateQuiz(ctx context.Context, text string, n int, difficulty generation.Difficulty) (*generation.QuizDraft, error)
}

// QuotaCounter is bumped once per completed run.
type QuotaCounter interface {
	Increment(ctx context.Context, userID string) error
}

// FileFetcher loads a document's source bytes.
type FileFetcher interface {
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// Pipeline moves submitted documents through extraction, generation and persistence
// on a pool of background workers.
type Pipeline struct {
	store     Store
	files     FileFetcher
	extractor core.TextExtractor
	generator ContentGenerator
	quota     QuotaCounter
	embedder  core.EmbeddingProvider
	queue     Queue
	cfg       Config
	log       *logger.Logger

	sleep func(context.Context, time.Duration) error

	rngMu sync.Mutex
	rng   *rand.Rand

	wg sync.WaitGroup
}

// Option customises a Pipeline at construction.
type Option func(*Pipeline)

// WithEmbedder stores front-side embeddings for related-card search after each completed run.
func WithEmbedder(e core.EmbeddingProvider) Option {
	return func(p *Pipeline) { p.embedder = e }
}

// WithRand fixes the answer-shuffling source.
func WithRand(r *rand.Rand) Option {
	return func(p *Pipeline) { p.rng = r }
}

// WithSleep replaces the wait between attempts. It must return ctx.Err() when ctx ends first.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(p *Pipeline) { p.sleep = fn }
}

func New(store Store, files FileFetcher, extractor core.TextExtractor, generator ContentGenerator, quota QuotaCounter, queue Queue, cfg Config, log *logger.Logger, opts ...Option) *Pipeline {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	p := &Pipeline{
		store:     store,
		files:     files,
		extractor: extractor,
		generator: generator,
		quota:     quota,
		queue:     queue,
		cfg:       cfg,
		log:       log.With("component", "DocumentPipeline"),
		sleep:     sleepCtx,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the workers. They stop taking new jobs when ctx is done.
// An attempt in progress finishes on its own; a run waiting to retry is handed back.
func (p *Pipeline) Start(ctx context.Context) {
	for w := 1; w <= p.cfg.Workers; w++ {
		p.wg.Add(1)
		go func(w int) {
			defer p.wg.Done()
			log := p.log.With("worker", w)
			for {
				job, err := p.queue.Pop(ctx)
				if err != nil {
					if ctx.Err() != nil {
						log.Info("worker shutting down")
						return
					}
					log.Error("dequeue failed", "error", err)
					if sleepCtx(ctx, time.Second) != nil {
						return
					}
					continue
				}
				log.Info("processing document", "document_id", job.DocumentID)
				if err := p.Run(ctx, job); err != nil {
					log.Warn("document failed", "document_id", job.DocumentID, "error", err)
				}
			}
		}(w)
	}
}

// Wait blocks until every worker has exited or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit enqueues a job and returns without waiting for it to run.
func (p *Pipeline) Submit(ctx context.Context, job Job) error {
	if err := p.queue.Push(ctx, job); err != nil {
		return fmt.Errorf("enqueue document %s: %w", job.DocumentID, err)
	}
	return nil
}

// Run processes one job with up to MaxRetries+1 attempts. It returns nil when the
// document completed or was skipped, and the last attempt's error after marking it FAILED.
//
// Attempts are not cut short by ctx. Only the wait between attempts is: when ctx ends
// there, the job goes back on a durable queue, or the document is failed as interrupted.
func (p *Pipeline) Run(ctx context.Context, job Job) error {
	total := p.cfg.MaxRetries + 1
	log := p.log.With("document_id", job.DocumentID)
	stop := ctx
	ctx = context.WithoutCancel(ctx)

	for n := 1; n <= total; n++ {
		at, err := p.attempt(ctx, job, n, log)
		if err == nil {
			return nil
		}
		if errors.Is(err, errStopped) {
			log.Info("run stopped, document no longer processing", "attempt", n, "phase", at)
			return nil
		}

		permanent := apperrors.IsPermanent(err) && !p.cfg.RetryPermanent
		if n == total || permanent {
			ok, ferr := p.store.FailDocument(ctx, job.DocumentID, failedUpdate(at, n, err))
			if ferr != nil {
				log.Error("recording failure", "error", ferr)
			} else if !ok {
				log.Info("failure not recorded, document already terminal", "attempt", n)
				return nil
			}
			log.Error("document failed", "attempt", n, "phase", at, "permanent", permanent, "error", err)
			return err
		}

		log.Warn("attempt failed, retrying", "attempt", n, "of", total, "phase", at, "error", err)
		ok, uerr := p.store.UpdateDocumentStep(ctx, job.DocumentID, retryUpdate(at, n, total, err))
		if uerr != nil {
			log.Error("recording retry", "error", uerr)
		} else if !ok {
			return nil
		}
		if err := p.sleep(stop, p.cfg.RetryDelay); err != nil {
			return p.interrupted(ctx, job, at, n, log)
		}
	}
	return nil
}

// interrupted hands a job that was waiting to retry back to the queue. A queue that
// does not survive the restart cannot take it, so the document is failed instead.
func (p *Pipeline) interrupted(ctx context.Context, job Job, at Phase, n int, log *logger.Logger) error {
	if p.queue.Durable() {
		pushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.queue.Push(pushCtx, job)
		cancel()
		if err == nil {
			log.Info("retry wait interrupted, job requeued", "attempt", n)
			return nil
		}
		log.Error("requeue after interrupt", "error", err)
	}
	ok, err := p.store.FailDocument(ctx, job.DocumentID, interruptedUpdate(at, n))
	if err != nil {
		log.Error("recording interrupt", "error", err)
	} else if !ok {
		return nil
	}
	log.Warn("retry wait interrupted, document failed", "attempt", n)
	return ErrInterrupted
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// attempt runs the steps once and returns the phase it reached.
func (p *Pipeline) attempt(ctx context.Context, job Job, n int, log *logger.Logger) (at Phase, err error) {
	at = PhaseQueued
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	// Fresh read every attempt; the status doubles as the cancellation token.
	doc, err := p.store.GetDocumentByID(ctx, job.DocumentID)
	if err != nil {
		return at, fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		log.Warn("document not found, skipping")
		return at, nil
	}
	if doc.Status != models.StatusProcessing {
		log.Info("document not processing, skipping", "status", doc.Status)
		return at, nil
	}

	enter := func(ph Phase) error {
		at = ph
		log.Info("pipeline step", "attempt", n, "phase", ph)
		ok, err := p.store.UpdateDocumentStep(ctx, doc.ID, ph.Update())
		if err != nil {
			return fmt.Errorf("record step %s: %w", ph, err)
		}
		if !ok {
			return errStopped
		}
		return nil
	}

	var text string
	if doc.ExtractedText != nil {
		text = *doc.ExtractedText
	}
	if strings.TrimSpace(text) == "" {
		if err := enter(PhaseExtracting); err != nil {
			return at, err
		}
		text, err = p.extract(ctx, doc)
		if err != nil {
			return at, err
		}
		if err := p.store.SetExtractedText(ctx, doc.ID, text); err != nil {
			return at, fmt.Errorf("save extracted text: %w", err)
		}
	}

	difficulty := generation.ParseDifficulty(job.Difficulty)
	wantCards := job.ContentType == models.ContentFlashcards || job.ContentType == models.ContentBoth
	wantQuiz := job.ContentType == models.ContentQuiz || job.ContentType == models.ContentBoth

	var cards []generation.FlashcardDraft
	if wantCards {
		if err := enter(PhaseGeneratingFlashcards); err != nil {
			return at, err
		}
		cards, err = p.generator.GenerateFlashcards(ctx, text, job.NumFlashcards, difficulty)
		if err != nil {
			return at, err
		}
	}

	var quiz *generation.QuizDraft
	if wantQuiz {
		if err := enter(PhaseGeneratingQuiz); err != nil {
			return at, err
		}
		quiz, err = p.generator.GenerateQuiz(ctx, text, job.NumQuestions, difficulty)
		if err != nil {
			if !wantCards {
				return at, err
			}
			// A failed quiz does not discard flashcards from the same run.
			log.Warn("quiz generation failed", "attempt", n, "error", err)
			quiz = nil
		}
	}

	if len(cards) == 0 && quiz == nil {
		return at, ErrNoContent
	}

	if err := enter(PhasePersisting); err != nil {
		return at, err
	}
	flashcards := toFlashcards(cards)
	var quizRow *models.Quiz
	if quiz != nil {
		shuffled := p.shuffle(*quiz)
		quizRow = toQuiz(shuffled)
	}
	if err := p.store.SaveGeneratedContent(ctx, doc.ID, flashcards, quizRow, PhaseCompleted.Update()); err != nil {
		if errors.Is(err, apperrors.ErrInvalidState) {
			return at, errStopped
		}
		return at, fmt.Errorf("persist content: %w", err)
	}
	at = PhaseCompleted
	log.Info("document completed", "attempt", n, "flashcards", len(flashcards), "quiz", quizRow != nil)

	if err := p.quota.Increment(ctx, doc.UserID); err != nil {
		log.Error("quota increment failed", "user_id", doc.UserID, "error", err)
	}
	p.embedFlashcards(ctx, flashcards, log)
	return at, nil
}

func (p *Pipeline) extract(ctx context.Context, doc *models.Document) (string, error) {
	if doc.FilePath == "" {
		return "", apperrors.Permanent(apperrors.New("document has neither text nor a source file"))
	}
	bucket, key, err := objectclient.ParseObjectURI(doc.FilePath)
	if err != nil {
		return "", apperrors.Permanent(err)
	}
	data, err := p.files.GetFile(ctx, bucket, key)
	if err != nil {
		return "", fmt.Errorf("fetch source: %w", err)
	}
	return p.extractor.Extract(ctx, path.Base(key), data)
}

func (p *Pipeline) shuffle(q generation.QuizDraft) generation.QuizDraft {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return generation.ShuffleAnswers(q, p.rng)
}

// embedFlashcards is best-effort: the document is already COMPLETED, so nothing
// here, a panic included, may turn the run into a failed attempt.
func (p *Pipeline) embedFlashcards(ctx context.Context, cards []models.Flashcard, log *logger.Logger) {
	if p.embedder == nil || len(cards) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("embedding flashcards panicked", "panic", r)
		}
	}()
	fronts := make([]string, len(cards))
	for i, c := range cards {
		fronts[i] = c.Front
	}
	vecs, err := p.embedder.EmbedTexts(ctx, fronts)
	if err != nil {
		log.Warn("embedding flashcards failed", "error", err)
		return
	}
	byID := make(map[string][]float32, len(vecs))
	for i, v := range vecs {
		if i < len(cards) && (p.cfg.EmbedDim == 0 || len(v) == p.cfg.EmbedDim) {
			byID[cards[i].ID] = v
		}
	}
	if err := p.store.SetFlashcardEmbeddings(ctx, byID); err != nil {
		log.Warn("storing flashcard embeddings failed", "error", err)
	}
}

func toFlashcards(drafts []generation.FlashcardDraft) []models.Flashcard {
	out := make([]models.Flashcard, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, models.Flashcard{ID: newID(), Front: d.Front, Back: d.Back, Type: d.Type})
	}
	return out
}

func toQuiz(d generation.QuizDraft) *models.Quiz {
	q := &models.Quiz{ID: newID(), Title: d.Title}
	for i, qd := range d.Questions {
		question := models.Question{ID: newID(), QuizID: q.ID, Position: i, Text: qd.Text}
		for j, a := range qd.Answers {
			question.Answers = append(question.Answers, models.Answer{
				ID:          newID(),
				QuestionID:  question.ID,
				Position:    j,
				Text:        a.Text,
				IsCorrect:   a.IsCorrect,
				Explanation: a.Explanation,
			})
		}
		q.Questions = append(q.Questions, question)
	}
	return q
}
