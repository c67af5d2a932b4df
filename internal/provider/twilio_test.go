package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type capturedRequest struct {
	path string
	form url.Values
	user string
	pass string
}

type fakeTwilio struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	body     string
}

func (f *fakeTwilio) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	user, pass, _ := r.BasicAuth()

	f.mu.Lock()
	f.requests = append(f.requests, capturedRequest{path: r.URL.Path, form: r.PostForm, user: user, pass: pass})
	n := len(f.requests)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	if f.body != "" {
		_, _ = w.Write([]byte(f.body))
		return
	}
	_, _ = fmt.Fprintf(w, `{"sid":"SM%03d","status":"queued"}`, n)
}

func setupTwilio(t *testing.T, status int, body string) (*fakeTwilio, *TwilioProvider) {
	fake := &fakeTwilio{status: status, body: body}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	p := NewTwilioProvider(TwilioOptions{
		APIBaseURL:      srv.URL,
		AccountSID:      "AC123",
		AuthToken:       "secret",
		FromNumber:      "+15550000000",
		CallbackBaseURL: "https://checkin.example.com/",
		Timeout:         2 * time.Second,
	}, zap.NewNop())
	return fake, p
}

func TestTwilioProvider_StartInteraction(t *testing.T) {
	fake, p := setupTwilio(t, http.StatusCreated, "")

	sid, err := p.StartInteraction(context.Background(), "+15551230000", "s-1")

	require.NoError(t, err)
	assert.Equal(t, "SM001", sid)
	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Calls.json", req.path)
	assert.Equal(t, "AC123", req.user)
	assert.Equal(t, "secret", req.pass)
	assert.Equal(t, "+15551230000", req.form.Get("To"))
	assert.Equal(t, "+15550000000", req.form.Get("From"))
	assert.Equal(t, "https://checkin.example.com/callbacks/voice/answer?session_id=s-1", req.form.Get("Url"))
	assert.Equal(t, "https://checkin.example.com/callbacks/voice/status?session_id=s-1", req.form.Get("StatusCallback"))
	assert.Len(t, req.form["StatusCallbackEvent"], 4)
}

func TestTwilioProvider_SendAlert(t *testing.T) {
	fake, p := setupTwilio(t, http.StatusCreated, "")

	_, err := p.SendAlert(context.Background(), "+15551230001", "Check on them")

	require.NoError(t, err)
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", fake.requests[0].path)
	assert.Equal(t, "Check on them", fake.requests[0].form.Get("Body"))
}

func TestTwilioProvider_StartVoiceAlert(t *testing.T) {
	fake, p := setupTwilio(t, http.StatusCreated, "")

	_, err := p.StartVoiceAlert(context.Background(), "+15551230001", "s-1", "+15551230000")

	require.NoError(t, err)
	u, err := url.Parse(fake.requests[0].form.Get("Url"))
	require.NoError(t, err)
	assert.Equal(t, AlertPath, u.Path)
	assert.Equal(t, "s-1", u.Query().Get("session_id"))
	assert.Equal(t, "+15551230000", u.Query().Get("subject"))
}

func TestTwilioProvider_RejectedRequest(t *testing.T) {
	_, p := setupTwilio(t, http.StatusBadRequest,
		`{"code":21608,"message":"The number is unverified","status":400}`)

	_, err := p.StartInteraction(context.Background(), "+15551230000", "s-1")

	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusBadRequest, pe.StatusCode)
	assert.Equal(t, 21608, pe.Code)
	assert.Equal(t, "The number is unverified", pe.Message)
	assert.Equal(t, http.StatusBadRequest, StatusCode(fmt.Errorf("wrapped: %w", err)))
}

func TestTwilioProvider_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	p := NewTwilioProvider(TwilioOptions{APIBaseURL: base, AccountSID: "AC1", Timeout: time.Second}, zap.NewNop())
	_, err := p.SendAlert(context.Background(), "+1", "x")

	require.Error(t, err)
	assert.Equal(t, 0, StatusCode(err))
}

func TestTwilioProvider_RateLimiterHonoursContext(t *testing.T) {
	_, p := setupTwilio(t, http.StatusCreated, "")
	p.limiter = rate.NewLimiter(rate.Limit(0.001), 1)

	_, err := p.SendAlert(context.Background(), "+1", "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.SendAlert(ctx, "+1", "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}
