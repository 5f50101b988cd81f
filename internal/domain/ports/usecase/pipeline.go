package usecase

import (
	"context"
	"time"
)

// AnalysisTrigger is the single entry point that moves an attempt into AI
// analysis. It reports false when an analysis is already pending.
type AnalysisTrigger interface {
	RequestAnalysis(ctx context.Context, attemptID string, delay time.Duration) (bool, error)
}

type OCRTrigger interface {
	RequestOCR(ctx context.Context, attemptID string) error
}
