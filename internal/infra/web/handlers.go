package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"practice-pipeline/internal/domain"
	"practice-pipeline/internal/domain/model"
	"practice-pipeline/internal/infra/logging"
	"practice-pipeline/internal/usecase"
)

const maxJSONBody = 1 << 20

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

// fail maps domain errors onto status codes. Anything unexpected is logged and
// reported as 500 without details.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidPayload),
		errors.Is(err, domain.ErrAnswerImageMissing), errors.Is(err, domain.ErrNoTextToAnalyze):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrTransitionRejected):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func subject(r *http.Request) string {
	if c := claimsFrom(r.Context()); c != nil {
		return c.Subject
	}
	return ""
}

// ===== Attempts =====

type attemptDTO struct {
	ID            string          `json:"id"`
	Mode          model.Mode      `json:"mode"`
	Status        string          `json:"status"`
	ImageID       string          `json:"image_id"`
	AnswerImageID string          `json:"answer_image_id,omitempty"`
	TimerSeconds  int             `json:"timer_seconds"`
	StoryText     string          `json:"story_text,omitempty"`
	OCRText       string          `json:"ocr_text,omitempty"`
	OCRProvider   string          `json:"ocr_provider,omitempty"`
	OCRConfidence *float64        `json:"ocr_confidence,omitempty"`
	Score         *int            `json:"score,omitempty"`
	Feedback      *model.Analysis `json:"feedback,omitempty"`
	Stalled       bool            `json:"stalled,omitempty"`
	Message       string          `json:"message,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toAttemptDTO(a *model.Attempt) attemptDTO {
	return attemptDTO{
		ID:            a.ID,
		Mode:          a.Mode,
		Status:        string(a.Status),
		ImageID:       a.ImageID,
		AnswerImageID: a.AnswerImageID,
		TimerSeconds:  a.TimerSeconds,
		StoryText:     a.StoryText,
		OCRText:       a.OCRText,
		OCRProvider:   a.OCRProvider,
		OCRConfidence: a.OCRConfidence,
		Score:         a.Score,
		Feedback:      a.Feedback,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

type createAttemptRequest struct {
	Mode         model.Mode `json:"mode"`
	ImageID      string     `json:"image_id"`
	TimerSeconds int        `json:"timer_seconds"`
	StoryText    string     `json:"story_text"`
}

func (s *Server) createAttempt(w http.ResponseWriter, r *http.Request) {
	var req createAttemptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a, err := s.attempts.Create(r.Context(), subject(r), usecase.CreateAttemptInput{
		Mode:         req.Mode,
		ImageID:      req.ImageID,
		TimerSeconds: req.TimerSeconds,
		StoryText:    req.StoryText,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttemptDTO(a))
}

func (s *Server) listAttempts(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.attempts.List(r.Context(), subject(r), offset, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]attemptDTO, 0, len(list))
	for _, a := range list {
		out = append(out, toAttemptDTO(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": out})
}

func (s *Server) getAttempt(w http.ResponseWriter, r *http.Request) {
	v, err := s.attempts.Get(r.Context(), subject(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	dto := toAttemptDTO(v.Attempt)
	dto.Stalled = v.Stalled
	dto.Message = v.Message
	writeJSON(w, http.StatusOK, dto)
}

type updateAttemptRequest struct {
	StoryText     *string `json:"story_text"`
	AnswerImageID *string `json:"answer_image_id"`
	Status        *string `json:"status"`
}

func (s *Server) updateAttempt(w http.ResponseWriter, r *http.Request) {
	var req updateAttemptRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := usecase.UpdateAttemptInput{StoryText: req.StoryText, AnswerImageID: req.AnswerImageID}
	if req.Status != nil {
		st := model.AttemptStatus(*req.Status)
		in.Status = &st
	}
	a, err := s.attempts.Update(r.Context(), subject(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttemptDTO(a))
}

// ===== Images =====

type imageDTO struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Mode      model.Mode        `json:"mode,omitempty"`
	Source    model.ImageSource `json:"source"`
	Format    string            `json:"format,omitempty"`
	Bytes     int64             `json:"bytes"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Checksum  string            `json:"checksum"`
	CreatedAt time.Time         `json:"created_at"`
}

func (s *Server) toImageDTO(img *model.Image) imageDTO {
	return imageDTO{
		ID:        img.ID,
		URL:       s.images.URL(img),
		Mode:      img.Mode,
		Source:    img.Source,
		Format:    img.Format,
		Bytes:     img.Bytes,
		Width:     img.Width,
		Height:    img.Height,
		Checksum:  img.Checksum,
		CreatedAt: img.CreatedAt,
	}
}

// uploadImage takes a multipart form with a "file" part and an optional
// "mode" field.
func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, usecase.MaxUploadBytes+maxJSONBody)
	if err := r.ParseMultipartForm(usecase.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, usecase.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable file part")
		return
	}
	img, err := s.images.Upload(r.Context(), subject(r), data, hdr.Filename, model.Mode(r.FormValue("mode")))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toImageDTO(img))
}

func (s *Server) getImage(w http.ResponseWriter, r *http.Request) {
	img, err := s.images.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toImageDTO(img))
}

type generateImageRequest struct {
	Prompt      string     `json:"prompt"`
	Theme       string     `json:"theme"`
	SeedImageID string     `json:"seed_image_id"`
	Mode        model.Mode `json:"mode"`
}

func (s *Server) generateImage(w http.ResponseWriter, r *http.Request) {
	var req generateImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := s.images.RequestGeneration(r.Context(), subject(r), model.ImagePayload{
		Prompt:      req.Prompt,
		Theme:       req.Theme,
		SeedImageID: req.SeedImageID,
		Mode:        req.Mode,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

// ===== Admin =====

func queueParam(r *http.Request) (model.QueueName, bool) {
	name := model.QueueName(chi.URLParam(r, "queue"))
	for _, q := range model.Queues {
		if q == name {
			return name, true
		}
	}
	return "", false
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	q, ok := queueParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown queue")
		return
	}
	st, err := s.jobs.Stats(r.Context(), q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) failedJobs(w http.ResponseWriter, r *http.Request) {
	q, ok := queueParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown queue")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.jobs.Failed(r.Context(), q, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	q, ok := queueParam(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown queue")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.jobs.Retry(r.Context(), q, id); err != nil {
		s.fail(w, r, err)
		return
	}
	l := logging.With(r.Context(), s.log)
	l.Info().Str("queue", string(q)).Str("job_id", id).Msg("failed job retried by operator")
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}
