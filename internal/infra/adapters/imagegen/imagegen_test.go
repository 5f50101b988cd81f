package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"practice-pipeline/internal/domain/model"
)

func nopLog() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type failingGen struct{ calls int }

func (f *failingGen) Name() string { return "broken" }

func (f *failingGen) Generate(context.Context, string) ([]byte, error) {
	f.calls++
	return nil, errors.New("503")
}

func TestBuildPrompt(t *testing.T) {
	assert.Equal(t, "custom", BuildPrompt(model.ImagePayload{Prompt: " custom "}))
	assert.Equal(t,
		"High-quality photograph: river crossing. Professional lighting, clear composition, realistic details.",
		BuildPrompt(model.ImagePayload{Theme: "river crossing"}))

	p := model.ImagePayload{Mode: model.ModeTAT, RequestedBy: "u1"}
	first := BuildPrompt(p)
	assert.Equal(t, first, BuildPrompt(p), "mode prompts are deterministic")
	found := false
	for _, s := range basePrompts[model.ModeTAT] {
		if strings.Contains(first, s) {
			found = true
		}
	}
	assert.True(t, found)
	assert.Equal(t, model.ModePPDT, ModeFor(model.ImagePayload{}))
}

func TestDrawPlaceholder_DeterministicPNG(t *testing.T) {
	a, err := DrawPlaceholder("A group of cadets building a bridge across a stream during a storm")
	require.NoError(t, err)
	b, err := DrawPlaceholder("A group of cadets building a bridge across a stream during a storm")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	img, err := png.Decode(bytes.NewReader(a))
	require.NoError(t, err)
	assert.Equal(t, PlaceholderWidth, img.Bounds().Dx())
	assert.Equal(t, PlaceholderHeight, img.Bounds().Dy())
}

func TestWrap(t *testing.T) {
	lines := wrap("one two three four five six seven eight nine ten eleven twelve thirteen", 20)
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), 20)
	}
	assert.Equal(t, "one two three four", lines[0])
	assert.Empty(t, wrap("   ", 10))
}

func TestHTTPGenerator_ResponseShapes(t *testing.T) {
	pixel := []byte("not really a png")
	enc := base64.StdEncoding.EncodeToString(pixel)

	mux := http.NewServeMux()
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("x-freepik-api-key"))
		var body generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 1, body.NumImages)
		_, _ = w.Write([]byte(`{"data":[{"base64":"` + enc + `"}]}`))
	})
	mux.HandleFunc("/images", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"images":[{"image":"data:image/png;base64,` + enc + `"}]}`))
	})
	mux.HandleFunc("/bare", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"url":"http://` + r.Host + `/file"}]`))
	})
	mux.HandleFunc("/file", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(pixel) })
	mux.HandleFunc("/empty", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"data":[]}`)) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	for _, path := range []string{"/data", "/images", "/bare"} {
		g := NewHTTPGenerator(srv.URL+path, "secret", "x-freepik-api-key", srv.Client())
		got, err := g.Generate(context.Background(), "prompt")
		require.NoError(t, err, path)
		assert.Equal(t, pixel, got, path)
	}

	_, err := NewHTTPGenerator(srv.URL+"/empty", "", "x", srv.Client()).Generate(context.Background(), "p")
	assert.ErrorContains(t, err, "no image data")
	_, err = NewHTTPGenerator(srv.URL+"/missing", "", "x", srv.Client()).Generate(context.Background(), "p")
	assert.ErrorContains(t, err, "404")
}

func TestChain_FallsBackToPlaceholder(t *testing.T) {
	broken := &failingGen{}
	c := NewChain(nopLog(), time.Second, broken)
	data, name, err := c.Generate(context.Background(), "a quiet moment")
	require.NoError(t, err)
	assert.Equal(t, "placeholder", name)
	assert.Equal(t, 1, broken.calls, "each generator is tried once")
	want, _ := DrawPlaceholder("a quiet moment")
	assert.Equal(t, want, data)
}

type staticGen struct {
	name  string
	data  []byte
	calls int
}

func (s *staticGen) Name() string { return s.name }

func (s *staticGen) Generate(context.Context, string) ([]byte, error) {
	s.calls++
	return s.data, nil
}

func TestChain_SkipsUnusableDataForNextGenerator(t *testing.T) {
	pic, err := DrawPlaceholder("harbour at dusk")
	require.NoError(t, err)
	errorPage := &staticGen{name: "first", data: []byte("<html><body>rate limited</body></html>")}
	empty := &staticGen{name: "second"}
	good := &staticGen{name: "third", data: pic}

	data, name, err := NewChain(nopLog(), time.Second, errorPage, empty, good).Generate(context.Background(), "a harbour")
	require.NoError(t, err)
	assert.Equal(t, "third", name)
	assert.Equal(t, pic, data)
	assert.Equal(t, 1, errorPage.calls)
	assert.Equal(t, 1, empty.calls)
}
