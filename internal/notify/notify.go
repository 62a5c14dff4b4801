// Package notify posts run outcomes to external channels (e.g. Slack).
// Notifiers are loaded from the environment at startup; a run that ends
// blocked on approval or failed is worth a ping, a clean success is not.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
)

// Notifier is an integration that can deliver a short message.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, message string) error
}

// Registry holds loaded notifiers by name.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

func NewRegistry() *Registry {
	return &Registry{notifiers: make(map[string]Notifier)}
}

func (r *Registry) Register(name string, n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[name] = n
}

func (r *Registry) Get(name string) Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifiers[name]
}

// Broadcast sends the message to every registered notifier, returning
// the first error encountered.
func (r *Registry) Broadcast(ctx context.Context, message string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, n := range r.notifiers {
		if err := n.Notify(ctx, message); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", n.Name(), err)
		}
	}
	return firstErr
}

// Empty reports whether no notifiers are registered.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notifiers) == 0
}

// FromEnv builds a registry from well-known environment variables
// (SLACK_WEBHOOK_URL, GITHUB_TOKEN + GITHUB_OWNER_REPO).
func FromEnv() *Registry {
	reg := NewRegistry()
	if u := os.Getenv("SLACK_WEBHOOK_URL"); u != "" {
		reg.Register("slack", SlackWebhook{WebhookURL: u})
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		if repo := os.Getenv("GITHUB_OWNER_REPO"); repo != "" {
			reg.Register("github", GitHubNotifier{Token: token, OwnerRepo: repo})
		}
	}
	return reg
}

// SlackWebhook sends messages to a Slack channel via incoming webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	payload := map[string]any{"text": message}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// GitHubNotifier can create issues or comment (stub for now; requires token and API calls).
type GitHubNotifier struct {
	Token     string
	OwnerRepo string // e.g. "owner/repo"
}

func (g GitHubNotifier) Name() string { return "github" }

func (g GitHubNotifier) Notify(ctx context.Context, message string) error {
	if g.Token == "" || g.OwnerRepo == "" {
		return fmt.Errorf("github token or owner/repo not set")
	}
	// Stub: could POST to GitHub API to create an issue or comment.
	_ = ctx
	_ = message
	return nil
}
