package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-pipeline/internal/domain/ports/adapter"
)

type stubRecognizer struct {
	name string
	res  adapter.Recognition
	err  error
}

func (s stubRecognizer) Name() string { return s.name }

func (s stubRecognizer) RecognizeText(ctx context.Context, _ []byte) (adapter.Recognition, error) {
	return s.res, s.err
}

func nopLog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestChain_FirstNonEmptyWins(t *testing.T) {
	c := NewChain(nopLog(), time.Second,
		stubRecognizer{name: "vision", err: errors.New("quota")},
		stubRecognizer{name: "blank", res: adapter.Recognition{Text: "   "}},
		stubRecognizer{name: "gemini-vision", res: adapter.Recognition{Text: "He ran to help.", Confidence: 0.9}},
	)
	res, err := c.RecognizeText(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "He ran to help.", res.Text)
	assert.Equal(t, "gemini-vision", res.Provider)
}

func TestChain_AlwaysFailingFallsBack(t *testing.T) {
	c := NewChain(nopLog(), time.Second, stubRecognizer{name: "vision", err: errors.New("down")})
	res, err := c.RecognizeText(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, Fallback(), res)
	assert.Equal(t, "fallback-ocr", res.Provider)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)

	res, err = NewChain(nopLog(), time.Second).RecognizeText(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, FallbackText, res.Text)
}

func TestVisionRecognizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k1", r.URL.Query().Get("key"))
		var req visionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Requests, 1)
		assert.Equal(t, "DOCUMENT_TEXT_DETECTION", req.Requests[0].Features[0].Type)
		assert.NotEmpty(t, req.Requests[0].Image.Content)
		_, _ = w.Write([]byte(`{"responses":[{"fullTextAnnotation":{"text":"The cadet led the team."}}]}`))
	}))
	defer srv.Close()

	v, err := NewVisionRecognizer(srv.URL, "k1", srv.Client())
	require.NoError(t, err)
	res, err := v.RecognizeText(context.Background(), []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, "The cadet led the team.", res.Text)
	assert.Equal(t, ProviderVision, res.Provider)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestVisionRecognizer_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/denied" {
			http.Error(w, "permission denied", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"bad image"}}]}`))
	}))
	defer srv.Close()

	v, err := NewVisionRecognizer(srv.URL+"/denied", "k", srv.Client())
	require.NoError(t, err)
	_, err = v.RecognizeText(context.Background(), []byte{1})
	assert.ErrorContains(t, err, "403")

	v, _ = NewVisionRecognizer(srv.URL, "k", srv.Client())
	_, err = v.RecognizeText(context.Background(), []byte{1})
	assert.ErrorContains(t, err, "bad image")

	_, err = NewVisionRecognizer(srv.URL, "", nil)
	assert.Error(t, err)
}
