package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/songlab/api/internal/config"
	"github.com/songlab/api/internal/model"
)

// GenerationBackend defines the contract with the external compute service.
// One endpoint per (mode, operation); every call is synchronous and runs
// under the client timeout.
type GenerationBackend interface {
	Generate(ctx context.Context, mode model.GenerationMode, req *GenerateRequest) (*GenerateResponse, error)
	Extend(ctx context.Context, req *ExtendRequest) (*GenerateResponse, error)
	SplitStems(ctx context.Context, req *SplitStemsRequest) (*SplitStemsResponse, error)
}

// BackendClient implements GenerationBackend against the Modal-hosted
// ACE-Step service.
type BackendClient struct {
	httpClient *http.Client
	cfg        *config.BackendConfig
}

// GenerateRequest carries the mode-specific generation fields. Only the
// fields matching the selected mode are populated.
type GenerateRequest struct {
	Prompt            string   `json:"prompt,omitempty"`
	Lyrics            string   `json:"lyrics,omitempty"`
	DescribedLyrics   string   `json:"described_lyrics,omitempty"`
	FullDescribedSong string   `json:"full_described_song,omitempty"`
	GuidanceScale     *float64 `json:"guidance_scale,omitempty"`
	InferStep         *int     `json:"infer_step,omitempty"`
	AudioDuration     *int     `json:"audio_duration,omitempty"`
	Seed              *int     `json:"seed,omitempty"`
	Instrumental      *bool    `json:"instrumental,omitempty"`
}

// ExtendRequest extends an existing track by additional seconds.
type ExtendRequest struct {
	ParentS3Key               string `json:"parent_s3_key"`
	AdditionalDurationSeconds int    `json:"additional_duration_seconds"`
}

// SplitStemsRequest separates a full mix into stems.
type SplitStemsRequest struct {
	MixS3Key string `json:"mix_s3_key"`
}

// GenerateResponse is the success body for generate and extend calls.
// A populated Error field marks a failure even on a 2xx status.
type GenerateResponse struct {
	S3Key           string   `json:"s3_key"`
	CoverImageS3Key string   `json:"cover_image_s3_key"`
	Categories      []string `json:"categories"`
	Error           string   `json:"error,omitempty"`
}

// SplitStemsResponse carries up to four stem keys. Each key is optional:
// the backend may omit stems it could not isolate, and a partial result
// is valid.
type SplitStemsResponse struct {
	VocalsS3Key *string `json:"vocals_s3_key,omitempty"`
	DrumsS3Key  *string `json:"drums_s3_key,omitempty"`
	BassS3Key   *string `json:"bass_s3_key,omitempty"`
	OtherS3Key  *string `json:"other_s3_key,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// NewBackendClient creates a client for the generation backend.
func NewBackendClient(cfg *config.BackendConfig) *BackendClient {
	return &BackendClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		cfg: cfg,
	}
}

// Generate dispatches to the endpoint matching the generation mode.
func (c *BackendClient) Generate(ctx context.Context, mode model.GenerationMode, req *GenerateRequest) (*GenerateResponse, error) {
	var endpoint string
	switch mode {
	case model.ModeSimple:
		endpoint = c.cfg.GenerateFromDescriptionURL
	case model.ModePromptWithLyrics:
		endpoint = c.cfg.GenerateWithLyricsURL
	case model.ModePromptWithDescribedLyrics:
		endpoint = c.cfg.GenerateFromDescribedLyricsURL
	default:
		return nil, fmt.Errorf("no endpoint for generation mode %q", mode)
	}

	var result GenerateResponse
	if err := c.post(ctx, endpoint, req, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("backend rejected generation: %s", result.Error)
	}
	return &result, nil
}

// Extend generates additional audio continuing the parent track.
func (c *BackendClient) Extend(ctx context.Context, req *ExtendRequest) (*GenerateResponse, error) {
	var result GenerateResponse
	if err := c.post(ctx, c.cfg.ExtendURL, req, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("backend rejected extension: %s", result.Error)
	}
	return &result, nil
}

// SplitStems separates the mix identified by MixS3Key into stems.
func (c *BackendClient) SplitStems(ctx context.Context, req *SplitStemsRequest) (*SplitStemsResponse, error) {
	var result SplitStemsResponse
	if err := c.post(ctx, c.cfg.SplitStemsURL, req, &result); err != nil {
		return nil, err
	}
	if result.Error != "" {
		return nil, fmt.Errorf("backend rejected stem split: %s", result.Error)
	}
	return &result, nil
}

// IsConfigured returns true if the client has valid configuration.
func (c *BackendClient) IsConfigured() bool {
	return c.cfg.ModalKey != "" && c.cfg.ModalSecret != ""
}

// post sends a POST request with a JSON body and parses the response.
func (c *BackendClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Modal-Key", c.cfg.ModalKey)
	req.Header.Set("Modal-Secret", c.cfg.ModalSecret)

	log.Printf("[Backend] → POST %s", endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Backend] ✗ POST %s — request failed: %v", endpoint, err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("[Backend] ✗ POST %s — failed to read response: %v", endpoint, err)
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Backend] ← %d POST %s", resp.StatusCode, endpoint)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Log the body for operator diagnosis; the caller only needs
		// failure.
		log.Printf("[Backend] ✗ POST %s — status %d, body: %s", endpoint, resp.StatusCode, string(respBody))
		return fmt.Errorf("backend error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		log.Printf("[Backend] ✗ unmarshal error for POST %s: %v (body: %s)", endpoint, err, string(respBody))
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
