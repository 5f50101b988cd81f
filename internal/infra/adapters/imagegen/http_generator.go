package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"practice-pipeline/internal/domain/ports/adapter"
)

const maxImageBytes = 20 << 20

var _ adapter.ImageGenerator = (*HTTPGenerator)(nil)

// HTTPGenerator posts a prompt to a text-to-image endpoint. Replies may carry
// base64 data or a URL, under data, images or a bare array.
type HTTPGenerator struct {
	endpoint  string
	apiKey    string
	keyHeader string
	client    *http.Client
}

func NewHTTPGenerator(endpoint, apiKey, keyHeader string, client *http.Client) *HTTPGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGenerator{endpoint: endpoint, apiKey: apiKey, keyHeader: keyHeader, client: client}
}

func (g *HTTPGenerator) Name() string {
	if u, err := url.Parse(g.endpoint); err == nil && u.Host != "" {
		return u.Host + u.Path
	}
	return g.endpoint
}

type generateRequest struct {
	Prompt      string `json:"prompt"`
	NumImages   int    `json:"num_images"`
	AspectRatio string `json:"aspect_ratio"`
	Style       string `json:"style"`
}

type generatedItem struct {
	Base64 string `json:"base64"`
	Image  string `json:"image"`
	URL    string `json:"url"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt, NumImages: 1, AspectRatio: "1:1", Style: "realistic"})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set(g.keyHeader, g.apiKey)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: http %d", g.Name(), resp.StatusCode)
	}
	item, err := firstItem(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", g.Name(), err)
	}
	data := item.Base64
	if data == "" {
		data = item.Image
	}
	if data == "" {
		data = item.URL
	}
	if strings.HasPrefix(data, "http://") || strings.HasPrefix(data, "https://") {
		return g.download(ctx, data)
	}
	if i := strings.Index(data, ";base64,"); i >= 0 {
		data = data[i+len(";base64,"):]
	}
	out, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%s: decode base64: %w", g.Name(), err)
	}
	return out, nil
}

func firstItem(raw []byte) (generatedItem, error) {
	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Images json.RawMessage `json:"images"`
	}
	list := json.RawMessage(raw)
	if err := json.Unmarshal(raw, &envelope); err == nil {
		switch {
		case len(envelope.Data) > 0:
			list = envelope.Data
		case len(envelope.Images) > 0:
			list = envelope.Images
		}
	}
	var items []generatedItem
	if err := json.Unmarshal(list, &items); err != nil || len(items) == 0 {
		return generatedItem{}, errors.New("no image data in response")
	}
	if items[0].Base64 == "" && items[0].Image == "" && items[0].URL == "" {
		return generatedItem{}, errors.New("no image data in response")
	}
	return items[0], nil
}

func (g *HTTPGenerator) download(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: http %d", u, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
}
