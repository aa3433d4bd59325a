package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"swarmd/internal/config"
	"swarmd/internal/store"
	"swarmd/internal/swarm"
	"swarmd/internal/vault"
)

func newTestClient(endpoint string) *Client {
	// No key name configured, so the store and vault are never touched
	return NewClient(config.LLMConfig{Endpoint: endpoint, Model: "default-model"}, nil, nil)
}

func TestComplete(t *testing.T) {
	var gotReq chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "the answer"}},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	text, err := c.Complete(context.Background(), "what is the answer", "", 0.2)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if text != "the answer" {
		t.Errorf("unexpected completion %q", text)
	}
	if gotReq.Model != "default-model" {
		t.Errorf("expected configured model fallback, got %q", gotReq.Model)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("unexpected messages: %+v", gotReq.Messages)
	}
}

func TestCompleteServerErrorsAreTransient(t *testing.T) {
	for _, code := range []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusTooManyRequests} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		c := newTestClient(srv.URL)
		_, err := c.Complete(context.Background(), "p", "m", 0)
		if !errors.Is(err, swarm.ErrTransient) {
			t.Errorf("status %d: expected transient error, got %v", code, err)
		}
		srv.Close()
	}
}

func TestCompleteClientErrorsAreTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Complete(context.Background(), "p", "m", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, swarm.ErrTransient) {
		t.Errorf("4xx must not be transient: %v", err)
	}
}

func TestAPIKeyConcurrentAccess(t *testing.T) {
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "swarmd.db")})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer st.Close()

	v := vault.New("test-passphrase")
	value, nonce, err := v.Encrypt([]byte("sk-test-key"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := st.SaveSecret(&store.Secret{Name: "llm-key", Value: value, Nonce: nonce}); err != nil {
		t.Fatalf("save secret: %v", err)
	}

	c := NewClient(config.LLMConfig{KeyName: "llm-key"}, st, v)

	// Worker batches call completions on parallel goroutines, so the first
	// decrypt races later cache reads unless the cache is guarded.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key, err := c.apiKey()
			if err != nil {
				t.Errorf("api key: %v", err)
				return
			}
			if key != "sk-test-key" {
				t.Errorf("unexpected key %q", key)
			}
		}()
	}
	wg.Wait()
}

func TestCompleteRequiresEndpoint(t *testing.T) {
	c := newTestClient("")
	if _, err := c.Complete(context.Background(), "p", "m", 0); err == nil {
		t.Fatal("expected error without endpoint")
	}
}
