package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/songlab/api/internal/config"
	"github.com/songlab/api/internal/model"
)

func testConfig(base string) *config.BackendConfig {
	return &config.BackendConfig{
		GenerateFromDescriptionURL:     base + "/generate-from-description",
		GenerateWithLyricsURL:          base + "/generate-with-lyrics",
		GenerateFromDescribedLyricsURL: base + "/generate-from-described-lyrics",
		ExtendURL:                      base + "/extend",
		SplitStemsURL:                  base + "/split-stems",
		ModalKey:                       "test-key",
		ModalSecret:                    "test-secret",
		TimeoutSeconds:                 5,
	}
}

func TestBackendClient_GenerateRoutesByMode(t *testing.T) {
	var gotPath string
	var gotKey, gotSecret string
	var gotBody GenerateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Modal-Key")
		gotSecret = r.Header.Get("Modal-Secret")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(GenerateResponse{
			S3Key:           "songs/out.wav",
			CoverImageS3Key: "covers/out.png",
			Categories:      []string{"pop"},
		})
	}))
	defer srv.Close()

	c := NewBackendClient(testConfig(srv.URL))

	resp, err := c.Generate(context.Background(), model.ModePromptWithLyrics, &GenerateRequest{
		Prompt: "upbeat pop",
		Lyrics: "la la la",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if gotPath != "/generate-with-lyrics" {
		t.Errorf("path = %s, want /generate-with-lyrics", gotPath)
	}
	if gotKey != "test-key" || gotSecret != "test-secret" {
		t.Errorf("auth headers = (%q, %q)", gotKey, gotSecret)
	}
	if gotBody.Prompt != "upbeat pop" || gotBody.Lyrics != "la la la" {
		t.Errorf("request body = %+v", gotBody)
	}
	if resp.S3Key != "songs/out.wav" || len(resp.Categories) != 1 {
		t.Errorf("response = %+v", resp)
	}
}

func TestBackendClient_GenerateUnknownMode(t *testing.T) {
	c := NewBackendClient(testConfig("http://unused"))
	if _, err := c.Generate(context.Background(), model.GenerationMode("mystery"), &GenerateRequest{}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestBackendClient_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewBackendClient(testConfig(srv.URL))

	_, err := c.Generate(context.Background(), model.ModeSimple, &GenerateRequest{FullDescribedSong: "x"})
	if err == nil {
		t.Fatal("expected error on 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestBackendClient_ErrorBodyOn2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(GenerateResponse{Error: "prompt rejected"})
	}))
	defer srv.Close()

	c := NewBackendClient(testConfig(srv.URL))

	_, err := c.Extend(context.Background(), &ExtendRequest{ParentS3Key: "songs/p.wav", AdditionalDurationSeconds: 30})
	if err == nil {
		t.Fatal("expected error for error body on 200")
	}
	if !strings.Contains(err.Error(), "prompt rejected") {
		t.Errorf("error = %v, want backend message preserved", err)
	}
}

func TestBackendClient_SplitStemsPartialResponse(t *testing.T) {
	vocals := "stems/vocals.wav"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/split-stems" {
			t.Errorf("path = %s, want /split-stems", r.URL.Path)
		}
		json.NewEncoder(w).Encode(SplitStemsResponse{VocalsS3Key: &vocals})
	}))
	defer srv.Close()

	c := NewBackendClient(testConfig(srv.URL))

	resp, err := c.SplitStems(context.Background(), &SplitStemsRequest{MixS3Key: "songs/mix.wav"})
	if err != nil {
		t.Fatalf("SplitStems: %v", err)
	}
	if resp.VocalsS3Key == nil || *resp.VocalsS3Key != vocals {
		t.Errorf("vocals = %v, want %q", resp.VocalsS3Key, vocals)
	}
	if resp.DrumsS3Key != nil || resp.BassS3Key != nil || resp.OtherS3Key != nil {
		t.Errorf("response = %+v, want only vocals present", resp)
	}
}

func TestBackendClient_IsConfigured(t *testing.T) {
	if !NewBackendClient(testConfig("http://x")).IsConfigured() {
		t.Error("expected configured client")
	}
	cfg := testConfig("http://x")
	cfg.ModalSecret = ""
	if NewBackendClient(cfg).IsConfigured() {
		t.Error("expected unconfigured client without secret")
	}
}
