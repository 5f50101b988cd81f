package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/domain/ports/repository"
)

var _ repository.AttemptRepository = (*AttemptRepo)(nil)

// AttemptRepo keeps attempts in memory with the same transition rules as the
// Postgres repository.
type AttemptRepo struct {
	mu       sync.Mutex
	attempts map[string]*model.Attempt
	images   *ImageRepo
	users    *UserRepo
	now      func() time.Time
}

func NewAttemptRepo(images *ImageRepo, users *UserRepo) *AttemptRepo {
	return &AttemptRepo{
		attempts: make(map[string]*model.Attempt),
		images:   images,
		users:    users,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func cloneAttempt(a *model.Attempt) *model.Attempt {
	c := *a
	if a.OCRConfidence != nil {
		v := *a.OCRConfidence
		c.OCRConfidence = &v
	}
	if a.Score != nil {
		v := *a.Score
		c.Score = &v
	}
	if a.Feedback != nil {
		f := *a.Feedback
		f.Strengths = append([]string(nil), a.Feedback.Strengths...)
		f.Weaknesses = append([]string(nil), a.Feedback.Weaknesses...)
		c.Feedback = &f
	}
	return &c
}

func (r *AttemptRepo) Save(_ context.Context, _ repository.Tx, a *model.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts[a.ID] = cloneAttempt(a)
	return nil
}

func (r *AttemptRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	return cloneAttempt(a), nil
}

func (r *AttemptRepo) FindWithRelations(ctx context.Context, tx repository.Tx, id string) (*model.AttemptWithRelations, error) {
	a, err := r.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	out := &model.AttemptWithRelations{Attempt: *a}
	if r.images != nil {
		if img, err := r.images.FindByID(ctx, tx, a.ImageID); err == nil {
			out.Image = img
		}
		if a.AnswerImageID != "" {
			if img, err := r.images.FindByID(ctx, tx, a.AnswerImageID); err == nil {
				out.AnswerImage = img
			}
		}
	}
	if r.users != nil {
		if u, err := r.users.FindByID(ctx, tx, a.UserID); err == nil {
			out.User = u
		}
	}
	return out, nil
}

func (r *AttemptRepo) ListByUser(_ context.Context, _ repository.Tx, userID string, offset, limit int) ([]*model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Attempt
	for _, a := range r.attempts {
		if a.UserID == userID {
			out = append(out, cloneAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []*model.Attempt{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// update runs fn on the stored attempt under the lock, like SELECT ... FOR UPDATE.
func (r *AttemptRepo) update(id string, fn func(a *model.Attempt) error) (*model.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	work := cloneAttempt(a)
	if err := fn(work); err != nil {
		return nil, err
	}
	work.UpdatedAt = r.now()
	r.attempts[id] = work
	return cloneAttempt(work), nil
}

func (r *AttemptRepo) UpdateSubmission(_ context.Context, _ repository.Tx, id string, s model.Submission) (*model.Attempt, error) {
	return r.update(id, func(a *model.Attempt) error {
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
	})
}

func (r *AttemptRepo) UpdateStatus(_ context.Context, _ repository.Tx, id string, status model.AttemptStatus) (*model.Attempt, error) {
	return r.update(id, func(a *model.Attempt) error {
		if !model.CanTransition(a.Status, status) {
			return domain.ErrTransitionRejected
		}
		a.Status = status
		return nil
	})
}

func (r *AttemptRepo) UpdateOCR(_ context.Context, _ repository.Tx, id string, res model.OCRResult) (*model.Attempt, error) {
	return r.update(id, func(a *model.Attempt) error {
		a.ApplyOCR(res)
		return nil
	})
}

func (r *AttemptRepo) UpdateAnalysis(_ context.Context, _ repository.Tx, id string, an model.Analysis, status model.AttemptStatus) (*model.Attempt, error) {
	return r.update(id, func(a *model.Attempt) error {
		return a.ApplyAnalysis(an, status)
	})
}
