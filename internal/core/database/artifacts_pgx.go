package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/Cardify/internal/models"
	apperrors "github.com/markdave123-py/Cardify/internal/pkg/errors"
)

// SaveGeneratedContent inserts flashcards and the quiz tree, then moves the document to COMPLETED,
// all in a single transaction.
func (c *DatabaseClient) SaveGeneratedContent(ctx context.Context, docID string, cards []models.Flashcard, quiz *models.Quiz, final models.StepUpdate) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertFlashcards(ctx, tx, docID, cards, 0); err != nil {
		return fmt.Errorf("insert flashcards: %w", err)
	}
	if quiz != nil {
		if err := insertQuiz(ctx, tx, docID, quiz); err != nil {
			return fmt.Errorf("insert quiz: %w", err)
		}
	}

	const q = `
		UPDATE documents
		SET status = 'COMPLETED', phase = $2, current_step = $3, processing_progress = $4, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	ok, err := execGuarded(ctx, tx, q, docID, final.Phase, final.Step, final.Progress)
	if err != nil {
		return fmt.Errorf("complete document: %w", err)
	}
	if !ok {
		return fmt.Errorf("document %s is no longer processing: %w", docID, apperrors.ErrInvalidState)
	}
	return tx.Commit()
}

// numberFlashcards fills ids and positions starting at start, in slice order.
func numberFlashcards(docID string, cards []models.Flashcard, start int) {
	for i := range cards {
		fc := &cards[i]
		if fc.ID == "" {
			fc.ID = uuid.NewString()
		}
		fc.DocumentID = docID
		fc.Position = start + i
	}
}

func insertFlashcards(ctx context.Context, tx *sql.Tx, docID string, cards []models.Flashcard, start int) error {
	if len(cards) == 0 {
		return nil
	}
	const q = `
		INSERT INTO flashcards (id, document_id, front, back, card_type, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()

	numberFlashcards(docID, cards, start)
	for _, fc := range cards {
		if _, err := stmt.ExecContext(ctx, fc.ID, docID, fc.Front, fc.Back, fc.Type, fc.Position); err != nil {
			return err
		}
	}
	return nil
}

func insertQuiz(ctx context.Context, tx *sql.Tx, docID string, quiz *models.Quiz) error {
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	quiz.DocumentID = docID
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO quizzes (id, document_id, title, created_at) VALUES ($1, $2, $3, now())`,
		quiz.ID, docID, quiz.Title,
	); err != nil {
		return err
	}
	return insertQuestions(ctx, tx, quiz.ID, quiz.Questions, 0)
}

func insertQuestions(ctx context.Context, tx *sql.Tx, quizID string, questions []models.Question, start int) error {
	if len(questions) == 0 {
		return nil
	}
	qStmt, err := tx.PrepareContext(ctx, `INSERT INTO questions (id, quiz_id, position, text) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return err
	}
	defer qStmt.Close()
	aStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO answers (id, question_id, position, text, is_correct, explanation)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return err
	}
	defer aStmt.Close()

	for i := range questions {
		qu := &questions[i]
		if qu.ID == "" {
			qu.ID = uuid.NewString()
		}
		qu.QuizID = quizID
		qu.Position = start + i
		if _, err := qStmt.ExecContext(ctx, qu.ID, quizID, qu.Position, qu.Text); err != nil {
			return err
		}
		for j := range qu.Answers {
			a := &qu.Answers[j]
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			a.QuestionID = qu.ID
			a.Position = j
			if _, err := aStmt.ExecContext(ctx, a.ID, qu.ID, j, a.Text, a.IsCorrect, a.Explanation); err != nil {
				return err
			}
		}
	}
	return nil
}

// AppendFlashcards adds cards after the document's existing ones. It returns ErrInvalidState,
// with nothing written, when the deck would grow past limit.
func (c *DatabaseClient) AppendFlashcards(ctx context.Context, docID string, cards []models.Flashcard, limit int) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock serialises appends to one document.
	if err := lockRow(ctx, tx, `SELECT id FROM documents WHERE id = $1 FOR UPDATE`, "document", docID); err != nil {
		return err
	}
	var count, next int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(MAX(position) + 1, 0) FROM flashcards WHERE document_id = $1`, docID,
	).Scan(&count, &next)
	if err != nil {
		return err
	}
	if limit > 0 && count+len(cards) > limit {
		return fmt.Errorf("document %s has %d of %d flashcards: %w", docID, count, limit, apperrors.ErrInvalidState)
	}
	if err := insertFlashcards(ctx, tx, docID, cards, next); err != nil {
		return fmt.Errorf("insert flashcards: %w", err)
	}
	return tx.Commit()
}

// SaveQuiz stores a document's first quiz. A second one is ErrInvalidState.
func (c *DatabaseClient) SaveQuiz(ctx context.Context, docID string, quiz *models.Quiz) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertQuiz(ctx, tx, docID, quiz); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("document %s already has a quiz: %w", docID, apperrors.ErrInvalidState)
		}
		return fmt.Errorf("insert quiz: %w", err)
	}
	return tx.Commit()
}

// AppendQuestions adds questions after the quiz's existing ones, capped like AppendFlashcards.
func (c *DatabaseClient) AppendQuestions(ctx context.Context, quizID string, questions []models.Question, limit int) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockRow(ctx, tx, `SELECT id FROM quizzes WHERE id = $1 FOR UPDATE`, "quiz", quizID); err != nil {
		return err
	}
	var count, next int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*), COALESCE(MAX(position) + 1, 0) FROM questions WHERE quiz_id = $1`, quizID,
	).Scan(&count, &next)
	if err != nil {
		return err
	}
	if limit > 0 && count+len(questions) > limit {
		return fmt.Errorf("quiz %s has %d of %d questions: %w", quizID, count, limit, apperrors.ErrInvalidState)
	}
	if err := insertQuestions(ctx, tx, quizID, questions, next); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}
	return tx.Commit()
}

func lockRow(ctx context.Context, tx *sql.Tx, q, kind, id string) error {
	var got string
	err := tx.QueryRowContext(ctx, q, id).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, apperrors.ErrNotFound)
	}
	return err
}

const listFlashcardsQuery = `
	SELECT id, document_id, front, back, card_type, position, created_at
	FROM flashcards
	WHERE document_id = $1
	ORDER BY position ASC, created_at ASC, id ASC
`

func (c *DatabaseClient) ListFlashcardsByDocument(ctx context.Context, documentID string) ([]models.Flashcard, error) {
	return c.queryFlashcards(ctx, listFlashcardsQuery, documentID)
}

func (c *DatabaseClient) GetFlashcardByID(ctx context.Context, id string) (*models.Flashcard, error) {
	const q = `
		SELECT id, document_id, front, back, card_type, position, created_at, front_embedding
		FROM flashcards
		WHERE id = $1
	`
	var (
		fc  models.Flashcard
		emb sql.Null[pgvector.Vector]
	)
	err := c.db.QueryRowContext(ctx, q, id).Scan(&fc.ID, &fc.DocumentID, &fc.Front, &fc.Back, &fc.Type, &fc.Position, &fc.CreatedAt, &emb)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if emb.Valid {
		fc.Embedding = emb.V.Slice()
	}
	return &fc, nil
}

func (c *DatabaseClient) GetQuizByDocument(ctx context.Context, documentID string) (*models.Quiz, error) {
	var quiz models.Quiz
	err := c.db.QueryRowContext(ctx,
		`SELECT id, document_id, title, created_at FROM quizzes WHERE document_id = $1`, documentID,
	).Scan(&quiz.ID, &quiz.DocumentID, &quiz.Title, &quiz.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	const q = `
		SELECT q.id, q.position, q.text, a.id, a.position, a.text, a.is_correct, a.explanation
		FROM questions q
		JOIN answers a ON a.question_id = q.id
		WHERE q.quiz_id = $1
		ORDER BY q.position ASC, a.position ASC
	`
	rows, err := c.db.QueryContext(ctx, q, quiz.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			qu  models.Question
			a   models.Answer
			exp sql.NullString
		)
		if err := rows.Scan(&qu.ID, &qu.Position, &qu.Text, &a.ID, &a.Position, &a.Text, &a.IsCorrect, &exp); err != nil {
			return nil, err
		}
		if exp.Valid {
			s := exp.String
			a.Explanation = &s
		}
		a.QuestionID = qu.ID
		n := len(quiz.Questions)
		if n == 0 || quiz.Questions[n-1].ID != qu.ID {
			qu.QuizID = quiz.ID
			quiz.Questions = append(quiz.Questions, qu)
			n++
		}
		quiz.Questions[n-1].Answers = append(quiz.Questions[n-1].Answers, a)
	}
	return &quiz, rows.Err()
}

// SetFlashcardEmbeddings stores front-side embeddings in one transaction.
func (c *DatabaseClient) SetFlashcardEmbeddings(ctx context.Context, embeddings map[string][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `UPDATE flashcards SET front_embedding = $2 WHERE id = $1`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for id, vec := range embeddings {
		if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(vec)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SearchSimilarFlashcards finds the user's cards whose fronts are closest to queryVec (cosine distance).
func (c *DatabaseClient) SearchSimilarFlashcards(ctx context.Context, userID, excludeID string, queryVec []float32, limit int) ([]models.Flashcard, error) {
	const q = `
		SELECT f.id, f.document_id, f.front, f.back, f.card_type, f.position, f.created_at
		FROM flashcards f
		JOIN documents d ON d.id = f.document_id
		WHERE d.user_id = $1 AND f.id <> $2 AND f.front_embedding IS NOT NULL
		ORDER BY f.front_embedding <=> $3
		LIMIT $4
	`
	return c.queryFlashcards(ctx, q, userID, excludeID, pgvector.NewVector(queryVec), limit)
}

func (c *DatabaseClient) queryFlashcards(ctx context.Context, q string, args ...any) ([]models.Flashcard, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Flashcard
	for rows.Next() {
		var fc models.Flashcard
		if err := rows.Scan(&fc.ID, &fc.DocumentID, &fc.Front, &fc.Back, &fc.Type, &fc.Position, &fc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}
