package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegistry_RegisterGet(t *testing.T) {
	reg := NewRegistry()
	n := SlackWebhook{WebhookURL: "https://example.com"}
	reg.Register("slack", n)
	got := reg.Get("slack")
	if got != n {
		t.Fatalf("Get(slack): got %+v", got)
	}
	if reg.Get("nonexistent") != nil {
		t.Fatal("Get(nonexistent) should be nil")
	}
	if reg.Empty() {
		t.Fatal("Empty with one notifier registered")
	}
}

func TestRegistry_Broadcast(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got, _ = body["text"].(string)
	}))
	defer srv.Close()

	reg := NewRegistry()
	reg.Register("slack", SlackWebhook{WebhookURL: srv.URL})
	if err := reg.Broadcast(context.Background(), "run r1 awaiting approval"); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if got != "run r1 awaiting approval" {
		t.Fatalf("delivered text: %q", got)
	}
}

func TestSlackWebhook_Notify_emptyURL(t *testing.T) {
	n := SlackWebhook{}
	if err := n.Notify(context.Background(), "msg"); err == nil {
		t.Fatal("expected error when webhook URL empty")
	}
}

func TestSlackWebhook_Notify_serverError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	n := SlackWebhook{WebhookURL: srv.URL}
	if err := n.Notify(context.Background(), "msg"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestGitHubNotifier_Notify_missingConfig(t *testing.T) {
	g := GitHubNotifier{}
	if err := g.Notify(context.Background(), "msg"); err == nil {
		t.Fatal("expected error when token or owner/repo not set")
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("SLACK_WEBHOOK_URL", "https://hooks.example.com/x")
	t.Setenv("GITHUB_TOKEN", "")
	reg := FromEnv()
	if reg.Get("slack") == nil {
		t.Fatal("slack notifier not loaded from env")
	}
	if reg.Get("github") != nil {
		t.Fatal("github notifier loaded without token")
	}
}
