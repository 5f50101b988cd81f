package queue

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
)

var validate = validator.New()

func encodePayload(p model.JobPayload) (json.RawMessage, error) {
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload unmarshals and validates a job payload. Any failure is
// permanent since redelivering the same bytes cannot fix it.
func DecodePayload[T any](job *model.Job) (T, error) {
	var payload T
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return payload, Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
	}
	if err := validate.Struct(payload); err != nil {
		return payload, Permanent(fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err))
	}
	return payload, nil
}
