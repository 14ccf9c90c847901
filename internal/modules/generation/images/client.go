package images

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Generator renders one image for a prompt with the named model.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) ([]byte, error)
}

var errEmptyImage = errors.New("empty image returned")

// StatusError is a non-2xx answer from the inference API.
type StatusError struct {
	Model      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model %s: unexpected status code: %d, response: %s", e.Model, e.StatusCode, e.Body)
}

// InferenceClient calls a hosted text-to-image inference API
// (POST {endpoint}/{model}).
type InferenceClient struct {
	endpoint string
	token    string
	hc       *http.Client
}

func NewInferenceClient(endpoint, token string) (*InferenceClient, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("image api token cannot be empty")
	}
	return &InferenceClient{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		token:    strings.TrimSpace(token),
		hc:       &http.Client{},
	}, nil
}

type inferenceRequest struct {
	Inputs  string           `json:"inputs"`
	Options inferenceOptions `json:"options"`
}

type inferenceOptions struct {
	WaitForModel bool `json:"wait_for_model"`
	UseCache     bool `json:"use_cache"`
}

func (c *InferenceClient) Generate(ctx context.Context, prompt, model string) ([]byte, error) {
	reqBody, err := json.Marshal(inferenceRequest{
		Inputs:  prompt,
		Options: inferenceOptions{WaitForModel: true, UseCache: true},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+model, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/png")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Model: model, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("model %s: %w", model, errEmptyImage)
	}
	return data, nil
}
