package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

// messagesServer answers /v1/messages with reply, or with a 400 when reply
// is empty.
func messagesServer(t *testing.T, reply string, body *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q, want /v1/messages", r.URL.Path)
		}
		if body != nil {
			if err := json.NewDecoder(r.Body).Decode(body); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if reply == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"type": "error", "error": {"type": "invalid_request_error", "message": "bad prompt"}}`)
			return
		}
		fmt.Fprint(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClientKeyResolution(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		env     string
		wantErr bool
	}{
		{name: "explicit key", key: "sk-ant-explicit"},
		{name: "environment", env: "sk-ant-from-env"},
		{name: "missing", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ANTHROPIC_API_KEY", tt.env)
			c, err := NewClient(ClientConfig{APIKey: tt.key})
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewClient() succeeded without a key")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			if c.Model() != anthropic.ModelClaudeSonnet4_20250514 {
				t.Errorf("Model() = %q, want the default", c.Model())
			}
			if c.maxTokens != DefaultMaxTokens || c.timeout != DefaultTimeout {
				t.Errorf("limits = %d/%v, want defaults", c.maxTokens, c.timeout)
			}
		})
	}
}

func TestClientComplete(t *testing.T) {
	var body map[string]any
	srv := messagesServer(t, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-20250514",
		"content": [{"type": "text", "text": "{\"transformation_plan\": \"copy\"}"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 120, "output_tokens": 30}
	}`, &body)

	c, err := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL, MaxTokens: 2048, MaxRetries: -1})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	reply, err := c.Complete(context.Background(), "you plan bronze layers", "raw.orders")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != `{"transformation_plan": "copy"}` {
		t.Errorf("Complete() = %q", reply)
	}
	if body["max_tokens"] != float64(2048) {
		t.Errorf("max_tokens = %v, want 2048", body["max_tokens"])
	}
	if sys, _ := body["system"].([]any); len(sys) != 1 {
		t.Errorf("system = %v, want one block", body["system"])
	}

	in, out := c.Tracker().Total()
	if in != 120 || out != 30 || c.Tracker().Calls() != 1 {
		t.Errorf("tracked = %d/%d over %d calls, want 120/30 over 1", in, out, c.Tracker().Calls())
	}
}

func TestClientCompleteEmptyReply(t *testing.T) {
	srv := messagesServer(t, `{
		"id": "msg_02",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-20250514",
		"content": [],
		"stop_reason": "max_tokens",
		"usage": {"input_tokens": 10, "output_tokens": 0}
	}`, nil)

	c, err := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: -1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Complete(context.Background(), "s", "u"); !errors.Is(err, ErrEmptyReply) {
		t.Errorf("Complete() error = %v, want ErrEmptyReply", err)
	}
}

func TestClientCompleteHTTPError(t *testing.T) {
	srv := messagesServer(t, "", nil)

	c, err := NewClient(ClientConfig{APIKey: "k", BaseURL: srv.URL, MaxRetries: -1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("Complete() succeeded on a 400")
	}
	if c.Tracker().Calls() != 0 {
		t.Errorf("Calls() = %d, want 0", c.Tracker().Calls())
	}
}

func TestTokenTrackerCost(t *testing.T) {
	tr := NewTokenTracker()
	tr.Add(600_000, 100_000)
	tr.Add(400_000, 0)

	in, out := tr.Total()
	if in != 1_000_000 || out != 100_000 || tr.Calls() != 2 {
		t.Fatalf("Total() = %d/%d over %d calls", in, out, tr.Calls())
	}
	// 1M input at $3 plus 100k output at $15/M.
	if got := tr.Cost(); math.Abs(got-4.5) > 1e-9 {
		t.Errorf("Cost() = %f, want 4.5", got)
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	got := translateModelForBedrock(anthropic.ModelClaudeSonnet4_20250514)
	if got != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
		t.Errorf("translateModelForBedrock() = %q", got)
	}
	if got := translateModelForBedrock("custom-model"); got != "custom-model" {
		t.Errorf("translateModelForBedrock(custom) = %q, want unchanged", got)
	}
}

func TestNewClientBedrock(t *testing.T) {
	if os.Getenv("AWS_REGION") == "" && os.Getenv("AWS_DEFAULT_REGION") == "" {
		t.Skip("AWS_REGION not set")
	}

	c, err := NewClient(ClientConfig{UseAWSBedrock: true, AWSRegion: "us-west-2"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if c.Model() != "us.anthropic.claude-sonnet-4-20250514-v1:0" {
		t.Errorf("Model() = %q, want the Bedrock profile", c.Model())
	}
}
