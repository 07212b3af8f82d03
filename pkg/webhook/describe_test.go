package webhook

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, SourceGeneric, Classify(h))

	h.Set("Stripe-Signature", "t=1,v1=x")
	assert.Equal(t, SourceStripe, Classify(h))

	h.Set("X-GitHub-Event", "push")
	assert.Equal(t, SourceGitHub, Classify(h))
}

func TestDescribeGitHub(t *testing.T) {
	tests := []struct {
		name  string
		event string
		body  string
		want  string
	}{
		{
			name:  "push",
			event: "push",
			body:  `{"ref":"refs/heads/main","repository":{"full_name":"octo/mc"},"commits":[{"id":"a"},{"id":"b"},{"id":"c"}]}`,
			want:  "push to octo/mc (3 commits)",
		},
		{
			name:  "single commit",
			event: "push",
			body:  `{"ref":"refs/heads/main","repository":{"full_name":"octo/mc"},"commits":[{"id":"a"}]}`,
			want:  "push to octo/mc (1 commit)",
		},
		{
			name:  "merged pull request",
			event: "pull_request",
			body:  `{"action":"closed","pull_request":{"number":4,"title":"Add cron","merged":true},"repository":{"full_name":"octo/mc"}}`,
			want:  "pull request #4 merged in octo/mc: Add cron",
		},
		{
			name:  "issue",
			event: "issues",
			body:  `{"action":"opened","issue":{"number":9,"title":"Broken"},"repository":{"full_name":"octo/mc"}}`,
			want:  "issue #9 opened in octo/mc: Broken",
		},
		{
			name:  "workflow",
			event: "workflow_run",
			body:  `{"action":"completed","workflow_run":{"name":"CI","conclusion":"failure"},"repository":{"full_name":"octo/mc"}}`,
			want:  "workflow CI failure in octo/mc",
		},
		{
			name:  "unknown event",
			event: "star",
			body:  `{"action":"created","repository":{"full_name":"octo/mc"}}`,
			want:  "star created in octo/mc",
		},
		{
			name:  "invalid json",
			event: "push",
			body:  `not json`,
			want:  "GitHub push",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			h.Set("X-GitHub-Event", tt.event)
			ev := Describe(SourceGitHub, h, []byte(tt.body))
			assert.Equal(t, tt.want, ev.Description)
			assert.Equal(t, tt.event, ev.Type)
		})
	}
}

func TestDescribeStripe(t *testing.T) {
	ev := Describe(SourceStripe, http.Header{}, []byte(`{"id":"evt_1","type":"invoice.paid",
		"data":{"object":{"amount_paid":4900,"currency":"usd","customer_email":"a@b.co"}}}`))

	assert.Equal(t, "invoice.paid", ev.Type)
	assert.Equal(t, "invoice.paid: 49.00 USD (a@b.co)", ev.Description)
	assert.Equal(t, 49.0, ev.Metadata["amount"])
	assert.Equal(t, "evt_1", ev.Metadata["stripeId"])

	ev = Describe(SourceStripe, http.Header{}, []byte(`{"id":"evt_2","type":"customer.created","data":{"object":{}}}`))
	assert.Equal(t, "customer.created", ev.Description)

	ev = Describe(SourceStripe, http.Header{}, []byte(`{}`))
	assert.Equal(t, "Stripe event", ev.Description)
}

func TestDescribeGeneric(t *testing.T) {
	ev := Describe(SourceGeneric, http.Header{}, []byte(`{"event":"deploy","message":"Deployed v1.2"}`))
	assert.Equal(t, "deploy", ev.Type)
	assert.Equal(t, "Deployed v1.2", ev.Description)

	ev = Describe(SourceGeneric, http.Header{}, []byte(`{"type":"uptime.down"}`))
	assert.Equal(t, "webhook: uptime.down", ev.Description)

	ev = Describe(SourceGeneric, http.Header{}, []byte(`plain text`))
	assert.Equal(t, "generic", ev.Type)
	assert.Equal(t, "generic webhook received", ev.Description)
	assert.Equal(t, "plain text", ev.Metadata["raw"])
}
