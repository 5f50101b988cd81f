package worker

import (
	"strings"

	"practice-pipeline/internal/config"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/infra/queue"
)

// Register binds the processors to their queues with the configured
// concurrency.
func Register(q *queue.Queue, cfg config.QueueConfig, ocr *OCRProcessor, analysis *AnalysisProcessor, images *ImageProcessor) {
	q.Handle(model.QueueOCR, cfg.Concurrency.OCR, ocr.Handle)
	q.Handle(model.QueueAnalyze, cfg.Concurrency.Analyze, analysis.Handle)
	q.Handle(model.QueueImageGenerate, cfg.Concurrency.ImageGenerate, images.Handle)
}

func hasText(s string) bool { return strings.TrimSpace(s) != "" }
