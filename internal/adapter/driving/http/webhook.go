package httphandler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/sponsoredissues/internal/domain/model"
	"github.com/ericfisherdev/sponsoredissues/internal/metrics"
)

// GitHub caps webhook payloads at 25 MB.
const maxWebhookBody = 25 << 20

const signaturePrefix = "sha256="

// Webhook handles GitHub App deliveries. The signature is checked before the
// payload is looked at; issue events are applied to the catalog and every
// other event is acknowledged without side effects.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.webhookResult(w, "unknown", "invalid", http.StatusBadRequest, "unreadable body")
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	metricEvent := event
	if metricEvent == "" {
		metricEvent = "unknown"
	}

	if len(h.webhookSecret) > 0 {
		signature := r.Header.Get("X-Hub-Signature-256")
		if !strings.HasPrefix(signature, signaturePrefix) {
			h.logger.Warn("webhook rejected: missing signature", "event", event)
			h.webhookResult(w, metricEvent, "rejected", http.StatusForbidden, "missing signature")
			return
		}
		// ValidateSignature compares the digests in constant time.
		if err := gh.ValidateSignature(signature, body, h.webhookSecret); err != nil {
			h.logger.Warn("webhook rejected: bad signature", "event", event, "error", err)
			h.webhookResult(w, metricEvent, "rejected", http.StatusForbidden, "invalid signature")
			return
		}
	}

	if event == "" {
		h.webhookResult(w, metricEvent, "invalid", http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}

	switch event {
	case "ping":
		if !json.Valid(body) {
			h.webhookResult(w, event, "invalid", http.StatusBadRequest, "invalid JSON payload")
			return
		}
		metrics.WebhookDeliveries.WithLabelValues(event, "pong").Inc()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))

	case "issues":
		var payload gh.IssuesEvent
		if err := json.Unmarshal(body, &payload); err != nil || payload.Issue == nil {
			h.webhookResult(w, event, "invalid", http.StatusBadRequest, "invalid JSON payload")
			return
		}

		change, err := h.catalog.ApplyIssueEvent(r.Context(), payload.GetAction(), snapshotFromIssue(payload.Issue))
		switch {
		case errors.Is(err, model.ErrInvalidIssueURL):
			h.webhookResult(w, event, "invalid", http.StatusBadRequest, "issue URL is not a GitHub issue")
			return
		case err != nil:
			h.logger.Error("webhook issue event failed", "action", payload.GetAction(), "issue", payload.Issue.GetHTMLURL(), "error", err)
			h.webhookResult(w, event, "error", http.StatusInternalServerError, "internal server error")
			return
		}

		result := "processed"
		if change == model.CatalogIgnored {
			result = "ignored"
		}
		metrics.WebhookDeliveries.WithLabelValues(event, result).Inc()
		writeJSON(w, http.StatusOK, WebhookResponse{Status: result, Change: string(change)})

	default:
		if !json.Valid(body) {
			h.webhookResult(w, event, "invalid", http.StatusBadRequest, "invalid JSON payload")
			return
		}
		metrics.WebhookDeliveries.WithLabelValues(event, "ignored").Inc()
		writeJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
	}
}

func (h *Handler) webhookResult(w http.ResponseWriter, event, result string, status int, message string) {
	metrics.WebhookDeliveries.WithLabelValues(event, result).Inc()
	writeError(w, status, message)
}

// snapshotFromIssue maps the webhook issue object to the stored snapshot.
func snapshotFromIssue(issue *gh.Issue) model.IssueSnapshot {
	labels := make([]model.Label, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, model.Label{Name: l.GetName(), Color: l.GetColor()})
	}

	return model.IssueSnapshot{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		Body:      issue.GetBody(),
		State:     model.ParseIssueState(issue.GetState()),
		URL:       issue.GetHTMLURL(),
		Labels:    labels,
		User:      model.IssueUser{Login: issue.GetUser().GetLogin()},
		CreatedAt: issue.GetCreatedAt().Time,
		UpdatedAt: issue.GetUpdatedAt().Time,
	}
}
