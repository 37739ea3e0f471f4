package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/markdave123-py/Cardify/internal/models"
)

const documentColumns = `
	d.id, d.user_id, d.file_name, d.file_path, d.source_type, d.status, d.phase, d.current_step,
	d.processing_progress, d.extracted_text, d.generates_flashcards, d.generates_quizzes,
	d.created_at, d.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner, extra ...any) (*models.Document, error) {
	var (
		d    models.Document
		text sql.NullString
	)
	dest := []any{
		&d.ID, &d.UserID, &d.FileName, &d.FilePath, &d.SourceType, &d.Status, &d.Phase, &d.CurrentStep,
		&d.ProcessingProgress, &text, &d.GeneratesFlashcards, &d.GeneratesQuizzes,
		&d.CreatedAt, &d.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if text.Valid {
		s := text.String
		d.ExtractedText = &s
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO documents
			(id, user_id, file_name, file_path, source_type, status, phase, current_step,
			 processing_progress, extracted_text, generates_flashcards, generates_quizzes, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING created_at, updated_at
	`
	return c.db.QueryRowContext(ctx, q,
		doc.ID, doc.UserID, doc.FileName, doc.FilePath, doc.SourceType, doc.Status, doc.Phase, doc.CurrentStep,
		doc.ProcessingProgress, doc.ExtractedText, doc.GeneratesFlashcards, doc.GeneratesQuizzes,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents d WHERE d.id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return d, err
}

const detailColumns = `,
	(SELECT count(*) FROM flashcards f WHERE f.document_id = d.id),
	EXISTS (SELECT 1 FROM quizzes z WHERE z.document_id = d.id)`

func (c *DatabaseClient) GetDocumentDetail(ctx context.Context, id string) (*models.DocumentDetail, error) {
	q := `SELECT ` + documentColumns + detailColumns + ` FROM documents d WHERE d.id = $1`
	var det models.DocumentDetail
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id), &det.TotalFlashcards, &det.HasQuiz)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	det.Document = *d
	return &det, nil
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.DocumentDetail, error) {
	q := `SELECT ` + documentColumns + detailColumns + `
		FROM documents d
		WHERE d.user_id = $1
		ORDER BY d.created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentDetail
	for rows.Next() {
		var det models.DocumentDetail
		d, err := scanDocument(rows, &det.TotalFlashcards, &det.HasQuiz)
		if err != nil {
			return nil, err
		}
		det.Document = *d
		out = append(out, det)
	}
	return out, rows.Err()
}

// DeleteDocument removes the document; flashcards and quiz rows go with it via ON DELETE CASCADE.
func (c *DatabaseClient) DeleteDocument(ctx context.Context, id string) error {
	return execOne(ctx, c.db, `DELETE FROM documents WHERE id = $1`, "document", id)
}

func (c *DatabaseClient) UpdateDocumentStep(ctx context.Context, id string, upd models.StepUpdate) (bool, error) {
	const q = `
		UPDATE documents
		SET phase = $2, current_step = $3, processing_progress = $4, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	return execGuarded(ctx, c.db, q, id, upd.Phase, upd.Step, upd.Progress)
}

func (c *DatabaseClient) SetExtractedText(ctx context.Context, id, text string) error {
	const q = `UPDATE documents SET extracted_text = $2, updated_at = now() WHERE id = $1`
	return execOne(ctx, c.db, q, "document", id, text)
}

func (c *DatabaseClient) FailDocument(ctx context.Context, id string, upd models.StepUpdate) (bool, error) {
	const q = `
		UPDATE documents
		SET status = 'FAILED', phase = $2, current_step = $3, processing_progress = $4, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	return execGuarded(ctx, c.db, q, id, upd.Phase, upd.Step, upd.Progress)
}

func (c *DatabaseClient) CancelDocument(ctx context.Context, id string, upd models.StepUpdate) (bool, error) {
	const q = `
		UPDATE documents
		SET status = 'CANCELLED', phase = $2, current_step = $3, updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	return execGuarded(ctx, c.db, q, id, upd.Phase, upd.Step)
}

// execGuarded runs a status-guarded update and reports whether it matched a row.
func execGuarded(ctx context.Context, ex execer, q string, args ...any) (bool, error) {
	res, err := ex.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
