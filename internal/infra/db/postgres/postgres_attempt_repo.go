package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/repository"
)

var _ repository.AttemptRepository = (*AttemptRepo)(nil)

// AttemptRepo stores attempts in Postgres. Updates lock the row, apply the
// model's transition rules and write back only the columns they own.
type AttemptRepo struct {
	pool   *pgxpool.Pool
	tm     repository.TransactionManager
	images *ImageRepo
	users  *UserRepo
}

func NewAttemptRepo(pool *pgxpool.Pool, tm repository.TransactionManager, images *ImageRepo, users *UserRepo) *AttemptRepo {
	return &AttemptRepo{pool: pool, tm: tm, images: images, users: users}
}

const attemptColumns = `id::text, user_id::text, mode, status, story_text, ocr_text, ocr_provider,
  ocr_confidence, score, feedback_json, timer_seconds, image_id::text, answer_image_id::text,
  created_at, updated_at`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	var (
		a           model.Attempt
		mode        string
		status      string
		story       sql.NullString
		ocrText     sql.NullString
		ocrProvider sql.NullString
		confidence  sql.NullFloat64
		score       sql.NullInt32
		feedback    []byte
		answerImage sql.NullString
	)
	err := row.Scan(&a.ID, &a.UserID, &mode, &status, &story, &ocrText, &ocrProvider,
		&confidence, &score, &feedback, &a.TimerSeconds, &a.ImageID, &answerImage,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Mode = model.Mode(mode)
	a.Status = model.AttemptStatus(status)
	a.StoryText = story.String
	a.OCRText = ocrText.String
	a.OCRProvider = ocrProvider.String
	a.AnswerImageID = answerImage.String
	if confidence.Valid {
		c := confidence.Float64
		a.OCRConfidence = &c
	}
	if score.Valid {
		s := int(score.Int32)
		a.Score = &s
	}
	if len(feedback) > 0 {
		var an model.Analysis
		if err := json.Unmarshal(feedback, &an); err != nil {
			return nil, fmt.Errorf("%w: feedback_json: %v", domain.ErrReadDatabaseRow, err)
		}
		a.Feedback = &an
	}
	return &a, nil
}

func (r *AttemptRepo) Save(ctx context.Context, tx repository.Tx, a *model.Attempt) error {
	const q = `
INSERT INTO attempts (id, user_id, mode, status, story_text, timer_seconds, image_id, answer_image_id, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`
	_, err := execSQL(ctx, r.pool, tx, q,
		a.ID, a.UserID, string(a.Mode), string(a.Status), nullIfEmpty(a.StoryText),
		a.TimerSeconds, a.ImageID, nullIfEmpty(a.AnswerImageID), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r *AttemptRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Attempt, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1;`, id)
	if err != nil {
		return nil, err
	}
	a, err := scanAttempt(row)
	if err != nil {
		return nil, scanErr(err, domain.ErrAttemptNotFound)
	}
	return a, nil
}

// FindWithRelations loads the attempt, its stimulus, its answer image (if
// any) and its owner.
func (r *AttemptRepo) FindWithRelations(ctx context.Context, tx repository.Tx, id string) (*model.AttemptWithRelations, error) {
	a, err := r.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	out := &model.AttemptWithRelations{Attempt: *a}
	if out.Image, err = r.images.FindByID(ctx, tx, a.ImageID); err != nil {
		return nil, fmt.Errorf("stimulus image %s: %w", a.ImageID, err)
	}
	if a.AnswerImageID != "" {
		img, err := r.images.FindByID(ctx, tx, a.AnswerImageID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			out.AnswerImage = img
		}
	}
	if out.User, err = r.users.FindByID(ctx, tx, a.UserID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	return out, nil
}

func (r *AttemptRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, offset, limit int) ([]*model.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	q := `SELECT ` + attemptColumns + ` FROM attempts WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3;`
	rows, err := pickRows(ctx, r.pool, tx, q, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// mutate locks the row, lets fn change it and runs write with the result.
// A caller-supplied tx is reused; otherwise a fresh transaction is opened.
func (r *AttemptRepo) mutate(ctx context.Context, tx repository.Tx, id string,
	fn func(a *model.Attempt) error,
	write func(ctx context.Context, tx repository.Tx, a *model.Attempt) error,
) (*model.Attempt, error) {
	var out *model.Attempt
	run := func(ctx context.Context, tx repository.Tx) error {
		row, err := pickRow(ctx, r.pool, tx, `SELECT `+attemptColumns+` FROM attempts WHERE id = $1 FOR UPDATE;`, id)
		if err != nil {
			return err
		}
		a, err := scanAttempt(row)
		if err != nil {
			return scanErr(err, domain.ErrAttemptNotFound)
		}
		if err := fn(a); err != nil {
			return err
		}
		if err := write(ctx, tx, a); err != nil {
			return err
		}
		out = a
		return nil
	}
	var err error
	if tx != nil {
		err = run(ctx, tx)
	} else {
		err = r.tm.WithTx(ctx, pgx.TxOptions{}, run)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *AttemptRepo) touch(ctx context.Context, tx repository.Tx, a *model.Attempt, q string, args ...interface{}) error {
	row, err := pickRow(ctx, r.pool, tx, q, append([]interface{}{a.ID}, args...)...)
	if err != nil {
		return err
	}
	return row.Scan(&a.UpdatedAt)
}

func (r *AttemptRepo) UpdateSubmission(ctx context.Context, tx repository.Tx, id string, s model.Submission) (*model.Attempt, error) {
	return r.mutate(ctx, tx, id, func(a *model.Attempt) error {
		if s.StoryText != nil {
			a.StoryText = *s.StoryText
		}
		if s.AnswerImageID != nil {
			a.AnswerImageID = *s.AnswerImageID
		}
		if s.Status != nil {
			a.Status = model.Advance(a.Status, *s.Status)
		}
		return nil
	}, func(ctx context.Context, tx repository.Tx, a *model.Attempt) error {
		return r.touch(ctx, tx, a, `
UPDATE attempts SET story_text = $2, answer_image_id = $3, status = $4, updated_at = now()
WHERE id = $1 RETURNING updated_at;`,
			nullIfEmpty(a.StoryText), nullIfEmpty(a.AnswerImageID), string(a.Status))
	})
}

func (r *AttemptRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.AttemptStatus) (*model.Attempt, error) {
	return r.mutate(ctx, tx, id, func(a *model.Attempt) error {
		if !model.CanTransition(a.Status, status) {
			return domain.ErrTransitionRejected
		}
		a.Status = status
		return nil
	}, func(ctx context.Context, tx repository.Tx, a *model.Attempt) error {
		return r.touch(ctx, tx, a,
			`UPDATE attempts SET status = $2, updated_at = now() WHERE id = $1 RETURNING updated_at;`,
			string(a.Status))
	})
}

func (r *AttemptRepo) UpdateOCR(ctx context.Context, tx repository.Tx, id string, res model.OCRResult) (*model.Attempt, error) {
	return r.mutate(ctx, tx, id, func(a *model.Attempt) error {
		a.ApplyOCR(res)
		return nil
	}, func(ctx context.Context, tx repository.Tx, a *model.Attempt) error {
		return r.touch(ctx, tx, a, `
UPDATE attempts SET ocr_text = $2, ocr_provider = $3, ocr_confidence = $4, status = $5, updated_at = now()
WHERE id = $1 RETURNING updated_at;`,
			a.OCRText, a.OCRProvider, *a.OCRConfidence, string(a.Status))
	})
}

func (r *AttemptRepo) UpdateAnalysis(ctx context.Context, tx repository.Tx, id string, an model.Analysis, status model.AttemptStatus) (*model.Attempt, error) {
	return r.mutate(ctx, tx, id, func(a *model.Attempt) error {
		return a.ApplyAnalysis(an, status)
	}, func(ctx context.Context, tx repository.Tx, a *model.Attempt) error {
		raw, err := json.Marshal(a.Feedback)
		if err != nil {
			return err
		}
		return r.touch(ctx, tx, a, `
UPDATE attempts SET feedback_json = $2::jsonb, score = $3, status = $4, updated_at = now()
WHERE id = $1 RETURNING updated_at;`,
			string(raw), *a.Score, string(a.Status))
	})
}
