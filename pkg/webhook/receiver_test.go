package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/harun/mission-control/pkg/activity"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) AppendGlobal(source, description, typ string, metadata map[string]any) (activity.Entry, error) {
	args := m.Called(source, description, typ, metadata)
	return args.Get(0).(activity.Entry), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

func newTestReceiver(t *testing.T, opts Options, rec ActivityRecorder, n Notifier) *Receiver {
	t.Helper()
	rv, err := NewReceiver(opts, rec, n, zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)
	t.Cleanup(func() { rv.Stop(context.Background()) })
	return rv
}

func deliver(rv *Receiver, header http.Header, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mc/webhook", strings.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	rv.ServeHTTP(rec, req)
	return rec
}

func TestNewReceiverRequiresRecorder(t *testing.T) {
	_, err := NewReceiver(Options{}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestReceiveGitHubPush(t *testing.T) {
	recorder := new(mockRecorder)
	recorder.On("AppendGlobal", "github", "push to octo/mc (2 commits)", "webhook", mock.MatchedBy(func(m map[string]any) bool {
		return m["eventType"] == "push" && m["repo"] == "octo/mc"
	})).Return(activity.Entry{ID: "act_1"}, nil)

	body := `{"ref":"refs/heads/main","repository":{"full_name":"octo/mc"},"commits":[{"id":"a"},{"id":"b"}]}`
	rv := newTestReceiver(t, Options{GitHubSecret: "s3cret"}, recorder, nil)

	h := http.Header{}
	h.Set("X-GitHub-Event", "push")
	h.Set("X-Hub-Signature-256", SignGitHub([]byte(body), "s3cret"))
	rec := deliver(rv, h, body)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, Response{Received: true, Source: SourceGitHub, ID: "act_1"}, resp)
	recorder.AssertExpectations(t)

	stats := rv.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, int64(1), stats[0].SuccessCount)
}

func TestReceiveRejectsBadGitHubSignature(t *testing.T) {
	recorder := new(mockRecorder)
	rv := newTestReceiver(t, Options{GitHubSecret: "s3cret"}, recorder, nil)

	h := http.Header{}
	h.Set("X-GitHub-Event", "push")
	h.Set("X-Hub-Signature-256", "sha256=00")
	rec := deliver(rv, h, `{}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid signature"}`, rec.Body.String())
	recorder.AssertNotCalled(t, "AppendGlobal", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReceiveStripeSigned(t *testing.T) {
	recorder := new(mockRecorder)
	recorder.On("AppendGlobal", "stripe", "invoice.paid", "webhook", mock.Anything).Return(activity.Entry{ID: "act_2"}, nil)

	body := `{"id":"evt_1","type":"invoice.paid","data":{"object":{}}}`
	rv := newTestReceiver(t, Options{StripeSecret: "whsec_x"}, recorder, nil)

	h := http.Header{}
	h.Set("Stripe-Signature", SignStripe([]byte(body), "whsec_x", time.Now()))
	rec := deliver(rv, h, body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"source":"stripe"`)
}

func TestReceiveStripeBadSignature(t *testing.T) {
	recorder := new(mockRecorder)
	rv := newTestReceiver(t, Options{StripeSecret: "whsec_x"}, recorder, nil)

	h := http.Header{}
	h.Set("Stripe-Signature", SignStripe([]byte(`{}`), "whsec_other", time.Now()))
	rec := deliver(rv, h, `{}`)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestReceiveUnsignedWhenNoSecret(t *testing.T) {
	recorder := new(mockRecorder)
	recorder.On("AppendGlobal", "github", mock.Anything, "webhook", mock.Anything).Return(activity.Entry{ID: "act_3"}, nil)
	rv := newTestReceiver(t, Options{}, recorder, nil)

	h := http.Header{}
	h.Set("X-GitHub-Event", "ping")
	rec := deliver(rv, h, `{"repository":{"full_name":"octo/mc"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReceiveGenericAlerts(t *testing.T) {
	recorder := new(mockRecorder)
	recorder.On("AppendGlobal", "generic", "Deployed", "webhook", mock.Anything).Return(activity.Entry{ID: "act_4"}, nil)

	notifier := new(mockNotifier)
	sent := make(chan string, 1)
	notifier.On("Send", mock.Anything, "Webhook (generic): Deployed").
		Run(func(args mock.Arguments) { sent <- args.String(1) }).
		Return(nil)

	rv := newTestReceiver(t, Options{AlertEvents: []string{"deploy"}}, recorder, notifier)
	rec := deliver(rv, http.Header{}, `{"event":"deploy","message":"Deployed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case text := <-sent:
		assert.Equal(t, "Webhook (generic): Deployed", text)
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not sent")
	}
}

func TestReceiveNoAlertForUnlistedEvent(t *testing.T) {
	recorder := new(mockRecorder)
	recorder.On("AppendGlobal", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(activity.Entry{ID: "x"}, nil)
	notifier := new(mockNotifier)

	rv := newTestReceiver(t, Options{AlertEvents: []string{"invoice.payment_failed"}}, recorder, notifier)
	deliver(rv, http.Header{}, `{"event":"deploy"}`)
	require.NoError(t, rv.Stop(context.Background()))

	notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestReceiveRateLimited(t *testing.T) {
	recorder := new(mockRecorder)
	recorder.On("AppendGlobal", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(activity.Entry{ID: "x"}, nil)
	rv := newTestReceiver(t, Options{RateLimitPerMinute: 2}, recorder, nil)

	assert.Equal(t, http.StatusOK, deliver(rv, nil, `{}`).Code)
	assert.Equal(t, http.StatusOK, deliver(rv, nil, `{}`).Code)

	rec := deliver(rv, nil, `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestReceiveTooLarge(t *testing.T) {
	recorder := new(mockRecorder)
	rv := newTestReceiver(t, Options{MaxBodyBytes: 8}, recorder, nil)

	rec := deliver(rv, nil, `{"message":"this is far too long"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestReceiveRecorderFailure(t *testing.T) {
	recorder := new(mockRecorder)
	recorder.On("AppendGlobal", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(activity.Entry{}, assert.AnError)
	rv := newTestReceiver(t, Options{}, recorder, nil)

	rec := deliver(rv, nil, `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReceiveMethodNotAllowed(t *testing.T) {
	rv := newTestReceiver(t, Options{}, new(mockRecorder), nil)

	rec := httptest.NewRecorder()
	rv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mc/webhook", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReceiveAfterStop(t *testing.T) {
	rv := newTestReceiver(t, Options{}, new(mockRecorder), nil)
	require.NoError(t, rv.Stop(context.Background()))

	rec := deliver(rv, nil, `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClientIPIgnoresHeadersFromUntrustedPeer(t *testing.T) {
	var none TrustedProxies

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	req.Header.Set("X-Real-IP", "172.16.0.1")
	assert.Equal(t, "198.51.100.7", none.ClientIP(req))

	req.RemoteAddr = "[::1]:8080"
	assert.Equal(t, "::1", none.ClientIP(req))
}

func TestClientIPBehindTrustedProxy(t *testing.T) {
	tp, err := ParseTrustedProxies([]string{"10.0.0.0/8", "127.0.0.1"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "127.0.0.1:40000"
	assert.Equal(t, "127.0.0.1", tp.ClientIP(req))

	req.Header.Set("X-Real-IP", "172.16.0.1")
	assert.Equal(t, "172.16.0.1", tp.ClientIP(req))

	// a client-supplied leftmost hop is not the key
	req.Header.Set("X-Forwarded-For", "1.1.1.1, 203.0.113.9, 10.0.0.2")
	assert.Equal(t, "203.0.113.9", tp.ClientIP(req))
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	_, err := ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)

	_, err = NewReceiver(Options{TrustedProxies: []string{"10.0.0.0/99"}}, new(mockRecorder), nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestRateLimitNotBypassedByForwardedFor(t *testing.T) {
	recorder := new(mockRecorder)
	recorder.On("AppendGlobal", "generic", mock.Anything, "webhook", mock.Anything).Return(activity.Entry{ID: "act_1"}, nil).Once()
	rv := newTestReceiver(t, Options{RateLimitPerMinute: 1}, recorder, nil)

	first := httptest.NewRequest(http.MethodPost, "/mc/webhook", strings.NewReader(`{}`))
	first.Header.Set("X-Forwarded-For", "203.0.113.1")
	rec := httptest.NewRecorder()
	rv.ServeHTTP(rec, first)
	assert.Equal(t, http.StatusOK, rec.Code)

	second := httptest.NewRequest(http.MethodPost, "/mc/webhook", strings.NewReader(`{}`))
	second.Header.Set("X-Forwarded-For", "203.0.113.2")
	rec = httptest.NewRecorder()
	rv.ServeHTTP(rec, second)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	recorder.AssertExpectations(t)
}
