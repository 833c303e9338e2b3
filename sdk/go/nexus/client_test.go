package nexus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChat(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotKey = r.Header.Get("X-API-Key")
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(TurnReply{
			ConversationID: req["conversation_id"],
			Reply:          "Found 2 papers.",
			AgentID:        "literature_agent",
			Intent:         "literature_search",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL, WithAPIKey("secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply, err := client.Chat(context.Background(), "conv-1", "find papers on CRISPR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Reply != "Found 2 papers." || reply.ConversationID != "conv-1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if gotKey != "secret" {
		t.Fatalf("api key not sent: %q", gotKey)
	}
}

func TestChatWithAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["agent_override"] != "blockchain_agent" {
			t.Errorf("agent override not sent: %v", req)
		}
		_ = json.NewEncoder(w).Encode(TurnReply{
			ConversationID: req["conversation_id"],
			Reply:          "ledger looks healthy",
			AgentID:        "blockchain_agent",
			Intent:         "agent_override",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reply, err := client.ChatWithAgent(context.Background(), "conv-1", "blockchain_agent", "status?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.AgentID != "blockchain_agent" || reply.Intent != "agent_override" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
}

func TestNotarizeAsync(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/provenance/jobs" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"job_id": "notary_1"})
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	jobID, err := client.NotarizeAsync(context.Background(), "exp_a1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobID != "notary_1" {
		t.Fatalf("unexpected job id: %s", jobID)
	}
}

func TestGetLedgerStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(LedgerStatus{
			Connected: true,
			NetworkID: "neox-testnet",
			Account:   "0xabc",
			Balance:   "1000",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	status, err := client.GetLedgerStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Connected || status.NetworkID != "neox-testnet" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestAPIErrorSurface(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":   "UNAUTHORIZED",
			"message": "invalid or missing API key",
		})
	}))
	defer server.Close()

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := client.Chat(context.Background(), "conv-1", "hello"); err == nil {
		t.Fatalf("expected error for 401 response")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Fatalf("expected error for empty base URL")
	}
}
