package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/vigil/lib/checker"
)

func newNotifyService(t *testing.T) *checker.Service {
	registry := checker.NewRegistry(time.Unix(1000000, 0))
	service, err := registry.AddService(checker.ServiceConfig{Name: "web"})
	require.NoError(t, err)
	return service
}

func sealedResult(state checker.State, output string) *checker.Result {
	result := checker.NewResult(state, output)
	result.SetVarsAfter(&checker.Snapshot{
		State:     state,
		StateType: checker.StateTypeHard,
		Attempt:   1,
	})
	result.Seal()
	return result
}

func TestWebhookDeliversNotification(t *testing.T) {
	var received webhookMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL)
	err := webhook.Notify(newNotifyService(t), checker.NotificationProblem,
		sealedResult(checker.StateCritical, "connection refused"))
	require.NoError(t, err)

	assert.Equal(t, "web", received.Service)
	assert.Equal(t, "problem", received.Kind)
	assert.Equal(t, "CRITICAL", received.State)
	assert.Equal(t, "HARD", received.StateType)
	assert.Equal(t, 1, received.Attempt)
	assert.Equal(t, "connection refused", received.Output)
}

func TestWebhookReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	webhook := NewWebhook(server.URL)
	err := webhook.Notify(newNotifyService(t), checker.NotificationRecovery,
		sealedResult(checker.StateOK, "back to normal"))
	assert.Error(t, err)
}
