// Package mailclient wraps the upstream mail API the email-archival worker
// fetches messages from: one rate-limited, retrying HTTP client per Client
// instance.
package mailclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/errs"
	"github.com/bobmcallan/casevault/internal/interfaces"
	"github.com/bobmcallan/casevault/internal/models"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxRequests    = 60
	DefaultWindow         = time.Minute
	DefaultMinSpacing     = time.Second
	DefaultMaxAttempts    = 3
	DefaultRetryInitialMs = 1_000
	DefaultRetryMaxMs     = 60_000
)

// Client implements interfaces.MailClient against an upstream mail API,
// serializing every request through a shared admission gate so a burst can
// never exceed the rate budget.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *common.Logger
	limiter     *rate.Limiter
	minSpacing  time.Duration
	maxAttempts int
	backoff     errs.BackoffConfig

	mu   sync.Mutex
	last time.Time
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithBaseURL sets the upstream mail API base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithLogger sets the logger.
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit sets the leaky-bucket budget: maxRequests per window.
func WithRateLimit(maxRequests int, window time.Duration) ClientOption {
	return func(c *Client) {
		ratePerSec := float64(maxRequests) / window.Seconds()
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), maxRequests)
	}
}

// WithMinSpacing sets the minimum inter-request spacing enforced in addition
// to the leaky-bucket limiter.
func WithMinSpacing(d time.Duration) ClientOption {
	return func(c *Client) { c.minSpacing = d }
}

// WithMaxAttempts sets the retry ceiling (default 3).
func WithMaxAttempts(n int) ClientOption {
	return func(c *Client) { c.maxAttempts = n }
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// NewClient creates a new mail client against baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(float64(DefaultMaxRequests)/DefaultWindow.Seconds()), DefaultMaxRequests),
		minSpacing:  DefaultMinSpacing,
		maxAttempts: DefaultMaxAttempts,
		backoff:     errs.BackoffConfig{InitialMs: DefaultRetryInitialMs, Multiplier: 2, MaxMs: DefaultRetryMaxMs},
		logger:      common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wireMessage is the upstream's JSON shape for one fetched message;
// toFetchResult converts it into the models types.
type wireMessage struct {
	Metadata struct {
		Subject         string    `json:"subject"`
		From            string    `json:"from"`
		To              []string  `json:"to"`
		CC              []string  `json:"cc"`
		BCC             []string  `json:"bcc"`
		SentAt          time.Time `json:"sentAt"`
		ReceivedAt      time.Time `json:"receivedAt"`
		Importance      string    `json:"importance"`
		IsRead          bool      `json:"isRead"`
		IsDraft         bool      `json:"isDraft"`
		ConversationID  string    `json:"conversationId"`
		AttachmentCount int       `json:"attachmentCount"`
	} `json:"metadata"`
	Bodies struct {
		HTML string `json:"html"`
		Text string `json:"text"`
		RTF  string `json:"rtf"`
	} `json:"bodies"`
	Headers     map[string]json.RawMessage `json:"headers"`
	Attachments []struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		ContentType     string `json:"contentType"`
		Size            int64  `json:"size"`
		IsInline        bool   `json:"isInline"`
		ContentID       string `json:"contentId"`
		ContentLocation string `json:"contentLocation"`
		Content         []byte `json:"content"`
	} `json:"attachments"`
}

// FetchMessage fetches one message by id plus its attachments in canonical
// form, retrying transport errors, timeouts, and the upstream's
// transient status codes up to maxAttempts.
func (c *Client) FetchMessage(ctx context.Context, token, tenant, user, messageID string) (*models.FetchResult, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		result, err := c.fetchOnce(ctx, token, tenant, user, messageID)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var je *errs.JobError
		if errors.As(err, &je) && !je.Retryable {
			return nil, err
		}
		if attempt == c.maxAttempts {
			break
		}

		delay := errs.Backoff(attempt, c.backoff)
		c.logger.Warn().Str("message_id", messageID).Int("attempt", attempt).Dur("delay", delay).
			Err(err).Msg("Mail-Fetcher: retrying after transient failure")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, lastErr
}

// fetchOnce performs one rate-limited attempt.
func (c *Client) fetchOnce(ctx context.Context, token, tenant, user, messageID string) (*models.FetchResult, error) {
	if err := c.admit(ctx); err != nil {
		return nil, errs.UpstreamTransient("rate limit wait interrupted", err)
	}

	reqURL := fmt.Sprintf("%s/messages/%s?%s", c.baseURL, url.PathEscape(messageID), url.Values{
		"tenant": {tenant},
		"user":   {user},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build mail-fetcher request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	c.logger.Debug().Str("message_id", messageID).Msg("Mail-Fetcher: fetching message")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.UpstreamTransient(fmt.Sprintf("request to upstream mail API failed for message %s", messageID), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.Auth(fmt.Sprintf("upstream mail API rejected credential (status %d)", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, errs.NotFound(fmt.Sprintf("message %s not found upstream", messageID))
	case resp.StatusCode == http.StatusBadRequest:
		return nil, errs.Validation(fmt.Sprintf("upstream mail API rejected request for message %s", messageID))
	case errs.IsRetryableStatusCode(resp.StatusCode):
		body, _ := io.ReadAll(resp.Body)
		return nil, errs.UpstreamTransient(fmt.Sprintf("upstream mail API returned status %d for message %s: %s", resp.StatusCode, messageID, string(body)), nil)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, errs.Validation(fmt.Sprintf("upstream mail API returned status %d for message %s: %s", resp.StatusCode, messageID, string(body)))
	}

	var wire wireMessage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode mail-fetcher response for message %s: %w", messageID, err)
	}

	return toFetchResult(&wire), nil
}

// admit enforces both the leaky-bucket budget and the minimum inter-request
// spacing before returning, serializing every caller through one gate.
func (c *Client) admit(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if since := time.Since(c.last); since < c.minSpacing {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.minSpacing - since):
		}
	}
	c.last = time.Now()
	return nil
}

func toFetchResult(wire *wireMessage) *models.FetchResult {
	headers := make(map[string]models.HeaderValue, len(wire.Headers))
	for k, raw := range wire.Headers {
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			headers[k] = models.HeaderValue{Single: single}
			continue
		}
		var multi []string
		if err := json.Unmarshal(raw, &multi); err == nil {
			headers[k] = models.HeaderValue{Multi: multi}
		}
	}

	attachments := make([]models.Attachment, 0, len(wire.Attachments))
	for _, a := range wire.Attachments {
		attachments = append(attachments, models.Attachment{
			ID:              a.ID,
			Name:            a.Name,
			ContentType:     a.ContentType,
			Size:            a.Size,
			IsInline:        a.IsInline,
			ContentID:       a.ContentID,
			ContentLocation: a.ContentLocation,
			Content:         a.Content,
		})
	}

	return &models.FetchResult{
		Bodies: models.EmailBodies{
			HTML: wire.Bodies.HTML,
			Text: wire.Bodies.Text,
			RTF:  wire.Bodies.RTF,
		},
		Headers: headers,
		Metadata: models.EmailMetadata{
			Subject:         wire.Metadata.Subject,
			From:            wire.Metadata.From,
			To:              wire.Metadata.To,
			CC:              wire.Metadata.CC,
			BCC:             wire.Metadata.BCC,
			SentAt:          wire.Metadata.SentAt,
			ReceivedAt:      wire.Metadata.ReceivedAt,
			Importance:      wire.Metadata.Importance,
			IsRead:          wire.Metadata.IsRead,
			IsDraft:         wire.Metadata.IsDraft,
			ConversationID:  wire.Metadata.ConversationID,
			AttachmentCount: len(wire.Attachments),
		},
		Attachments: attachments,
	}
}

// Ensure Client implements MailClient.
var _ interfaces.MailClient = (*Client)(nil)
