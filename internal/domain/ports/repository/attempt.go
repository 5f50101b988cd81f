package repository

import (
	"context"

	"practice-pipeline/internal/domain/model"
)

// AttemptRepository persists attempts. Every Update* method writes its own
// column set and never moves status backwards.
type AttemptRepository interface {
	Save(ctx context.Context, tx Tx, a *model.Attempt) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Attempt, error)
	FindWithRelations(ctx context.Context, tx Tx, id string) (*model.AttemptWithRelations, error)
	ListByUser(ctx context.Context, tx Tx, userID string, offset, limit int) ([]*model.Attempt, error)

	UpdateSubmission(ctx context.Context, tx Tx, id string, s model.Submission) (*model.Attempt, error)
	UpdateStatus(ctx context.Context, tx Tx, id string, status model.AttemptStatus) (*model.Attempt, error)
	UpdateOCR(ctx context.Context, tx Tx, id string, r model.OCRResult) (*model.Attempt, error)
	UpdateAnalysis(ctx context.Context, tx Tx, id string, an model.Analysis, status model.AttemptStatus) (*model.Attempt, error)
}
