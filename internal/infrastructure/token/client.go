package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/taskchannel/internal/core/domain"
	"github.com/kirillkom/taskchannel/internal/infrastructure/resilience"
)

// Client requests a fresh short-lived credential from the owning web
// session before each connection attempt. Credential failures are never
// retried here; the circuit breaker only protects the issuer from being
// hammered across reconnect cycles.
type Client struct {
	issueURL   string
	authHeader string
	authValue  string
	httpClient *http.Client
	executor   *resilience.Executor
}

type Options struct {
	// AuthHeader/AuthValue carry the caller's session, e.g. a cookie or
	// bearer header supplied by the host application.
	AuthHeader string
	AuthValue  string
	Timeout    time.Duration
	Executor   *resilience.Executor
}

func New(issueURL string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	executor := options.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.Config{
			RetryMaxAttempts:        1,
			BreakerEnabled:          true,
			BreakerMinRequests:      5,
			BreakerFailureRatio:     0.6,
			BreakerOpenTimeout:      30 * time.Second,
			BreakerHalfOpenMaxCalls: 1,
		})
	}
	return &Client{
		issueURL:   strings.TrimRight(issueURL, "/"),
		authHeader: options.AuthHeader,
		authValue:  options.AuthValue,
		httpClient: &http.Client{Timeout: timeout},
		executor:   executor,
	}
}

func (c *Client) Issue(ctx context.Context) (domain.Credential, error) {
	var cred domain.Credential
	err := c.executor.Execute(ctx, "token.issue", func(ctx context.Context) error {
		issued, err := c.issue(ctx)
		if err != nil {
			return err
		}
		cred = issued
		return nil
	}, classifyIssueError)
	if err != nil {
		return domain.Credential{}, domain.WrapError(domain.ErrCredential, "issue token", err)
	}
	return cred, nil
}

func (c *Client) issue(ctx context.Context) (domain.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.issueURL, nil)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("create issue request: %w", err)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.authHeader != "" {
		req.Header.Set(c.authHeader, c.authValue)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("issue request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return domain.Credential{}, formatIssueHTTPError(resp)
	}

	var cred domain.Credential
	if err := json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return domain.Credential{}, fmt.Errorf("decode issue response: %w", err)
	}
	if cred.Token == "" || cred.WSURL == "" {
		return domain.Credential{}, fmt.Errorf("issue response missing token or wsUrl")
	}
	return cred, nil
}

func formatIssueHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("issue status: %s", resp.Status)
	}
	return fmt.Errorf("issue status: %s: %s", resp.Status, msg)
}

func classifyIssueError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
