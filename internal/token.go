package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// SessionCredential grants access to one Realtime Room connection attempt.
// It is never persisted.
type SessionCredential struct {
	AccessToken string `json:"token"`
	RoomName    string `json:"room_name"`
	ServiceURL  string `json:"service_url"`
}

// TokenRequest is the body of POST /live/token.
type TokenRequest struct {
	WorkflowID     string `json:"workflow_id"`
	ResumeFromStep *int   `json:"resume_from_step,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	UserName       string `json:"user_name,omitempty"`
}

// TokenFetcher performs a single credential request.
type TokenFetcher interface {
	FetchToken(ctx context.Context, req TokenRequest) (*SessionCredential, error)
}

// TokenStatusError is a non-2xx answer from the token endpoint.
type TokenStatusError struct {
	StatusCode int
	Type       string
	Message    string
	RetryAfter time.Duration
}

func (e *TokenStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Message)
}

// RateLimited reports whether the endpoint refused because of a rate limit.
func (e *TokenStatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.Type == "rate_limit_error"
}

// NewHTTPClient returns the client used for API calls.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

// HTTPTokenFetcher calls POST {baseURL}/live/token.
type HTTPTokenFetcher struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTokenFetcher creates a fetcher for baseURL.
func NewHTTPTokenFetcher(baseURL string, httpClient *http.Client) *HTTPTokenFetcher {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &HTTPTokenFetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (f *HTTPTokenFetcher) FetchToken(ctx context.Context, tr TokenRequest) (*SessionCredential, error) {
	body, err := json.Marshal(tr)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+"/live/token", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &TokenStatusError{
			StatusCode: resp.StatusCode,
			Type:       apiErrorType(data),
			Message:    apiErrorMessage(data),
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			statusErr.RetryAfter = time.Duration(secs) * time.Second
		}
		return nil, statusErr
	}

	var cred SessionCredential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if cred.AccessToken == "" || cred.ServiceURL == "" {
		return nil, fmt.Errorf("token response missing token or service_url")
	}
	return &cred, nil
}

// apiError is the error envelope returned by the gateway.
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Detail string `json:"detail"`
}

func apiErrorType(body []byte) string {
	var e apiError
	if json.Unmarshal(body, &e) != nil {
		return ""
	}
	return e.Error.Type
}

func apiErrorMessage(body []byte) string {
	var e apiError
	if json.Unmarshal(body, &e) == nil {
		if e.Error.Message != "" {
			return e.Error.Message
		}
		if e.Detail != "" {
			return e.Detail
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// linearBackOff waits interval, 2*interval, 3*interval, ...
type linearBackOff struct {
	interval time.Duration
	attempt  int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.interval
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// TokenAcquirer obtains session credentials with bounded linear retry.
type TokenAcquirer struct {
	fetcher     TokenFetcher
	maxAttempts int
	interval    time.Duration
	userID      string
	userName    string

	// OnAttempt is called before each attempt with the 1-based attempt number.
	OnAttempt func(attempt, max int)
	// OnRetry is called with a transient failure before waiting for the next attempt.
	OnRetry func(err *AcquisitionError, wait time.Duration)

	newTimer func() backoff.Timer

	mu       sync.Mutex
	inFlight map[string]bool
	attempt  int
}

// NewTokenAcquirer creates an acquirer. maxAttempts < 1 means 3; interval <= 0 means 1s.
func NewTokenAcquirer(fetcher TokenFetcher, maxAttempts int, interval time.Duration) *TokenAcquirer {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenAcquirer{
		fetcher:     fetcher,
		maxAttempts: maxAttempts,
		interval:    interval,
		inFlight:    make(map[string]bool),
	}
}

// SetUser sets the identity sent with each request.
func (a *TokenAcquirer) SetUser(id, name string) {
	a.userID = id
	a.userName = name
}

// SetTimer replaces the timer used between attempts.
func (a *TokenAcquirer) SetTimer(newTimer func() backoff.Timer) {
	a.newTimer = newTimer
}

// Attempt returns the attempt currently running, or 0 when idle.
func (a *TokenAcquirer) Attempt() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempt
}

// InFlight reports whether a request for workflowID is running.
func (a *TokenAcquirer) InFlight(workflowID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inFlight[workflowID]
}

// Acquire requests a credential for workflowID. resumeStep is the 1-based step
// the assistant should resume at, or nil for a fresh start.
func (a *TokenAcquirer) Acquire(ctx context.Context, workflowID string, resumeStep *int) (*SessionCredential, error) {
	a.mu.Lock()
	if a.inFlight[workflowID] {
		a.mu.Unlock()
		LogDebug("Token request for %s already in flight", workflowID)
		return nil, ErrAcquisitionInFlight
	}
	a.inFlight[workflowID] = true
	a.attempt = 0
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.inFlight, workflowID)
		a.attempt = 0
		a.mu.Unlock()
	}()

	req := TokenRequest{
		WorkflowID:     workflowID,
		ResumeFromStep: resumeStep,
		UserID:         a.userID,
		UserName:       a.userName,
	}

	var (
		cred     *SessionCredential
		attempts int
	)
	operation := func() error {
		a.mu.Lock()
		a.attempt++
		attempts = a.attempt
		a.mu.Unlock()
		if a.OnAttempt != nil {
			a.OnAttempt(attempts, a.maxAttempts)
		}

		c, err := a.fetcher.FetchToken(ctx, req)
		if err == nil {
			cred = c
			return nil
		}
		var statusErr *TokenStatusError
		if errors.As(err, &statusErr) && statusErr.RateLimited() {
			return backoff.Permanent(err)
		}
		Logger().Debug().Str("recipe", workflowID).Int("attempt", attempts).Err(err).Msg("Token attempt failed")
		return err
	}

	notify := func(err error, wait time.Duration) {
		LogWarn("Token attempt %d/%d for %s failed, retrying in %s: %v", attempts, a.maxAttempts, workflowID, wait, err)
		if a.OnRetry != nil {
			a.OnRetry(&AcquisitionError{
				Kind:       AcquisitionTransient,
				WorkflowID: workflowID,
				Attempts:   attempts,
				StatusCode: statusCode(err),
				Err:        err,
			}, wait)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(&linearBackOff{interval: a.interval}, uint64(a.maxAttempts-1)), ctx)

	var timer backoff.Timer
	if a.newTimer != nil {
		timer = a.newTimer()
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, timer)
	if err == nil {
		LogInfo("Acquired session credential for %s on attempt %d", workflowID, attempts)
		return cred, nil
	}

	acqErr := &AcquisitionError{
		Kind:       AcquisitionExhausted,
		WorkflowID: workflowID,
		Attempts:   attempts,
		StatusCode: statusCode(err),
		Err:        err,
	}
	var statusErr *TokenStatusError
	if errors.As(err, &statusErr) && statusErr.RateLimited() {
		acqErr.Kind = AcquisitionRateLimited
	}
	LogError("Token acquisition for %s failed: %v", workflowID, acqErr)
	return nil, acqErr
}

func statusCode(err error) int {
	var statusErr *TokenStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
