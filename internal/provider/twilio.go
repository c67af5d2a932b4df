package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Callback routes served by internal/http
const (
	AnswerPath    = "/callbacks/voice/answer"
	RecordingPath = "/callbacks/voice/recording"
	StatusPath    = "/callbacks/voice/status"
	AlertPath     = "/callbacks/voice/alert"
	HangupPath    = "/callbacks/voice/hangup"
)

// TwilioOptions account and callback settings
type TwilioOptions struct {
	APIBaseURL string
	AccountSID string
	AuthToken  string
	FromNumber string
	// CallbackBaseURL public URL of this service, used to build callback URLs
	CallbackBaseURL   string
	MessagesPerSecond float64
	Timeout           time.Duration
}

type twilioResource struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

// TwilioProvider Programmable Voice / Messaging over the REST API
type TwilioProvider struct {
	httpClient  *resty.Client
	accountSID  string
	from        string
	callbackURL string
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func NewTwilioProvider(opts TwilioOptions, logger *zap.Logger) *TwilioProvider {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(opts.APIBaseURL, "/")).
		SetTimeout(timeout).
		SetBasicAuth(opts.AccountSID, opts.AuthToken).
		SetHeader("Accept", "application/json")

	limit := rate.Inf
	if opts.MessagesPerSecond > 0 {
		limit = rate.Limit(opts.MessagesPerSecond)
	}

	return &TwilioProvider{
		httpClient:  client,
		accountSID:  opts.AccountSID,
		from:        opts.FromNumber,
		callbackURL: strings.TrimRight(opts.CallbackBaseURL, "/"),
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger,
	}
}

func (p *TwilioProvider) StartInteraction(ctx context.Context, phone, sessionID string) (string, error) {
	q := url.Values{"session_id": {sessionID}}
	form := url.Values{
		"To":                  {phone},
		"From":                {p.from},
		"Url":                 {p.callback(AnswerPath, q)},
		"StatusCallback":      {p.callback(StatusPath, q)},
		"StatusCallbackEvent": {"initiated", "ringing", "answered", "completed"},
	}
	return p.create(ctx, "Calls.json", form)
}

func (p *TwilioProvider) SendAlert(ctx context.Context, phone, text string) (string, error) {
	form := url.Values{
		"To":   {phone},
		"From": {p.from},
		"Body": {text},
	}
	return p.create(ctx, "Messages.json", form)
}

func (p *TwilioProvider) StartVoiceAlert(ctx context.Context, phone, sessionID, subjectPhone string) (string, error) {
	form := url.Values{
		"To":   {phone},
		"From": {p.from},
		"Url": {p.callback(AlertPath, url.Values{
			"session_id": {sessionID},
			"subject":    {subjectPhone},
		})},
		"StatusCallback": {p.callback(StatusPath, url.Values{"session_id": {sessionID}})},
	}
	return p.create(ctx, "Calls.json", form)
}

// Callback absolute URL of one of our callback routes
func (p *TwilioProvider) callback(path string, q url.Values) string {
	return p.callbackURL + path + "?" + q.Encode()
}

func (p *TwilioProvider) create(ctx context.Context, resource string, form url.Values) (string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	var result twilioResource
	var apiErr twilioError
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetFormDataFromValues(form).
		SetResult(&result).
		SetError(&apiErr).
		SetPathParam("account", p.accountSID).
		SetPathParam("resource", resource).
		Post("/2010-04-01/Accounts/{account}/{resource}")
	if err != nil {
		return "", &ProviderError{Message: err.Error()}
	}

	if resp.IsError() {
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status()
		}
		p.logger.Warn("Twilio request rejected",
			zap.String("resource", resource),
			zap.String("to", form.Get("To")),
			zap.Int("status_code", resp.StatusCode()),
			zap.Int("code", apiErr.Code),
			zap.String("message", msg),
		)
		return "", &ProviderError{StatusCode: resp.StatusCode(), Code: apiErr.Code, Message: msg}
	}

	if result.SID == "" {
		return "", &ProviderError{StatusCode: resp.StatusCode(), Message: "response carried no sid"}
	}
	return result.SID, nil
}
