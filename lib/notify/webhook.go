package notify

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/gravitational/trace"

	"github.com/gravitational/vigil/lib/checker"
	"github.com/gravitational/vigil/lib/defaults"
)

// Webhook posts notification requests to an HTTP endpoint as JSON.
type Webhook struct {
	// URL is the webhook endpoint
	URL string
	// Client is the HTTP client used for delivery. Optional
	Client *http.Client
}

// NewWebhook creates a webhook notification sink.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL:    url,
		Client: &http.Client{Timeout: defaults.WebhookTimeout},
	}
}

type webhookMessage struct {
	Service   string `json:"service"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	StateType string `json:"state_type"`
	Attempt   int    `json:"attempt"`
	Output    string `json:"output"`
}

// Notify delivers the notification to the webhook endpoint.
func (r *Webhook) Notify(service *checker.Service, kind checker.NotificationKind, result *checker.Result) error {
	message := webhookMessage{
		Service: service.Name(),
		Kind:    kind.String(),
		State:   result.State().String(),
		Output:  result.Output(),
	}
	if vars := result.VarsAfter(); vars != nil {
		message.StateType = vars.StateType.String()
		message.Attempt = vars.Attempt
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return trace.Wrap(err)
	}
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: defaults.WebhookTimeout}
	}
	resp, err := client.Post(r.URL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return trace.Wrap(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return trace.BadParameter("webhook %v responded with %v", r.URL, resp.Status)
	}
	return nil
}
