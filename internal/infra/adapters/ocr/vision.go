// Package ocr holds the text recognizers used for answer images.
package ocr

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

const ProviderVision = "google-cloud-vision"

var _ adapter.Recognizer = (*VisionRecognizer)(nil)

// VisionRecognizer calls the Cloud Vision images:annotate REST endpoint with
// DOCUMENT_TEXT_DETECTION.
type VisionRecognizer struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewVisionRecognizer(endpoint, apiKey string, client *http.Client) (*VisionRecognizer, error) {
	if apiKey == "" {
		return nil, errors.New("vision: empty api key")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &VisionRecognizer{endpoint: endpoint, apiKey: apiKey, client: client}, nil
}

func (v *VisionRecognizer) Name() string { return ProviderVision }

type visionRequest struct {
	Requests []visionImageRequest `json:"requests"`
}

type visionImageRequest struct {
	Image struct {
		Content string `json:"content"`
	} `json:"image"`
	Features []struct {
		Type string `json:"type"`
	} `json:"features"`
}

type visionResponse struct {
	Responses []struct {
		FullTextAnnotation *struct {
			Text string `json:"text"`
		} `json:"fullTextAnnotation"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"responses"`
}

func (v *VisionRecognizer) RecognizeText(ctx context.Context, image []byte) (adapter.Recognition, error) {
	var ir visionImageRequest
	ir.Image.Content = base64.StdEncoding.EncodeToString(image)
	ir.Features = append(ir.Features, struct {
		Type string `json:"type"`
	}{Type: "DOCUMENT_TEXT_DETECTION"})
	body, err := json.Marshal(visionRequest{Requests: []visionImageRequest{ir}})
	if err != nil {
		return adapter.Recognition{}, err
	}

	u, err := url.Parse(v.endpoint)
	if err != nil {
		return adapter.Recognition{}, fmt.Errorf("vision endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", v.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return adapter.Recognition{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := v.client.Do(req)
	if err != nil {
		return adapter.Recognition{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return adapter.Recognition{}, fmt.Errorf("vision http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var payload visionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return adapter.Recognition{}, fmt.Errorf("vision decode: %w", err)
	}
	if len(payload.Responses) == 0 {
		return adapter.Recognition{}, errors.New("vision: empty response")
	}
	r := payload.Responses[0]
	if r.Error != nil {
		return adapter.Recognition{}, fmt.Errorf("vision error %d: %s", r.Error.Code, r.Error.Message)
	}
	if r.FullTextAnnotation == nil {
		return adapter.Recognition{Provider: ProviderVision}, nil
	}
	return adapter.Recognition{Text: r.FullTextAnnotation.Text, Confidence: 0.9, Provider: ProviderVision}, nil
}
