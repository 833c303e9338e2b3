package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	xerrors "LabNexus/internal/errors"
)

func newVoiceServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/text-to-speech/") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("xi-api-key") != "voice-secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req["text"] == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-fake-mpeg-frames"))
	}))
}

func TestVoiceClientSynthesize(t *testing.T) {
	server := newVoiceServer(t)
	defer server.Close()

	client := NewVoiceClient(VoiceConfig{
		BaseURL:   server.URL,
		APIKey:    "voice-secret",
		OutputDir: t.TempDir(),
	})
	path, size, err := client.Synthesize(context.Background(), "The blot shows a single band at 36 kDa.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size == 0 || !strings.HasSuffix(path, ".mp3") {
		t.Fatalf("unexpected synthesis result: %s (%d bytes)", path, size)
	}
	audio, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("audio file not written: %v", err)
	}
	if string(audio) != "ID3-fake-mpeg-frames" {
		t.Fatalf("unexpected audio content: %q", audio)
	}

	if _, _, err := client.Synthesize(context.Background(), "  "); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for empty text, got %v", err)
	}
}

func TestVoiceClientRequiresAPIKey(t *testing.T) {
	client := NewVoiceClient(VoiceConfig{OutputDir: t.TempDir()})
	_, _, err := client.Synthesize(context.Background(), "hello")
	if xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected INITIALIZATION_FAILURE without key, got %v", err)
	}
}

func TestSpeakTool(t *testing.T) {
	server := newVoiceServer(t)
	defer server.Close()

	speak := &SpeakTool{client: NewVoiceClient(VoiceConfig{
		BaseURL:   server.URL,
		APIKey:    "voice-secret",
		OutputDir: t.TempDir(),
	})}

	result := speak.Execute(context.Background(), mustParams(t, map[string]string{
		"text": "Experiment exp_a1 was notarized successfully.",
	}))
	if !result.OK {
		t.Fatalf("unexpected failure: %+v", result)
	}
	audioPath, _ := result.Details["audio_path"].(string)
	if audioPath == "" {
		t.Fatalf("missing audio path in details: %+v", result.Details)
	}
	if _, err := os.Stat(audioPath); err != nil {
		t.Fatalf("audio file missing: %v", err)
	}
}

func TestSpeakToolSurfacesUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	speak := &SpeakTool{client: NewVoiceClient(VoiceConfig{
		BaseURL:   server.URL,
		APIKey:    "voice-secret",
		OutputDir: t.TempDir(),
	})}
	result := speak.Execute(context.Background(), mustParams(t, map[string]string{"text": "hello"}))
	if result.OK {
		t.Fatalf("expected failure when the voice service rejects the request")
	}
}
