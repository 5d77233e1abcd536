package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/corebank/transaction-orchestrator/internal/interfaces"
	"github.com/corebank/transaction-orchestrator/internal/logging"
	"github.com/corebank/transaction-orchestrator/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ClientConfig configures the HTTP account ledger client.
type ClientConfig struct {
	BaseURL string

	// CallTimeout bounds each individual attempt.
	CallTimeout time.Duration

	// Retries is the transport retry budget per read. Non-transient
	// responses (404, 409) are never retried, and neither is the
	// conditional balance update: once the request may have reached the
	// server its effect is unknown, and a blind re-send can apply twice.
	Retries int

	// BackoffBase is the base of the jittered exponential backoff between
	// transport retries.
	BackoffBase time.Duration

	Logger *logging.Logger
}

// HTTPClient talks to the account ledger service. Transient read failures
// are retried with jittered exponential backoff behind a circuit breaker;
// 404 and 409 are translated into the domain error taxonomy and returned
// immediately. Conditional updates are sent exactly once per call: a
// transient failure there surfaces as ErrAccountServiceUnavailable so the
// caller can resolve the ambiguous outcome from a fresh read.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	cb          *gobreaker.CircuitBreaker
	retries     int
	callTimeout time.Duration
	backoffBase time.Duration
	logger      *logging.Logger
}

// NewHTTPClient creates the account ledger client.
func NewHTTPClient(config ClientConfig) *HTTPClient {
	logger := config.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("accounts")

	if config.CallTimeout <= 0 {
		config.CallTimeout = 3 * time.Second
	}
	if config.Retries <= 0 {
		config.Retries = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 50 * time.Millisecond
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "account-ledger",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Business responses (404, 409) mean the service answered; only
		// transport-level failures count against the breaker.
		IsSuccessful: func(err error) bool {
			_, transient := err.(transientError)
			return !transient
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &HTTPClient{
		baseURL:     config.BaseURL,
		httpClient:  &http.Client{Timeout: config.CallTimeout},
		cb:          cb,
		retries:     config.Retries,
		callTimeout: config.CallTimeout,
		backoffBase: config.BackoffBase,
		logger:      logger,
	}
}

// Get fetches the current account snapshot.
func (c *HTTPClient) Get(ctx context.Context, accountID string) (models.Account, error) {
	url := fmt.Sprintf("%s/accounts/%s", c.baseURL, accountID)

	var account models.Account
	err := c.doWithRetry(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transientError{err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(&account)
		case resp.StatusCode == http.StatusNotFound:
			return models.ErrAccountNotFound
		case resp.StatusCode >= 500:
			return transientError{fmt.Errorf("account service returned %d", resp.StatusCode)}
		default:
			return fmt.Errorf("unexpected status %d from account service", resp.StatusCode)
		}
	})
	if err != nil {
		return models.Account{}, err
	}
	return account, nil
}

type conditionalUpdateRequest struct {
	ExpectedVersion int64           `json:"expected_version"`
	NewBalance      decimal.Decimal `json:"new_balance"`
}

type conditionalUpdateResponse struct {
	Version int64 `json:"version"`
}

// ConditionalUpdateBalance applies newBalance if the stored version still
// equals expectedVersion. A 409 from the account service means another
// writer got there first and maps to models.ErrVersionConflict.
//
// The PUT is not idempotent from the guard's point of view: a re-send of an
// update that already landed is indistinguishable from a lost race, so the
// request is attempted exactly once and transient failures surface as
// ErrAccountServiceUnavailable for the caller to resolve by re-reading.
func (c *HTTPClient) ConditionalUpdateBalance(ctx context.Context, accountID string, expectedVersion int64, newBalance decimal.Decimal) (int64, error) {
	url := fmt.Sprintf("%s/accounts/%s/balance", c.baseURL, accountID)
	body, err := json.Marshal(conditionalUpdateRequest{
		ExpectedVersion: expectedVersion,
		NewBalance:      newBalance,
	})
	if err != nil {
		return 0, err
	}

	var result conditionalUpdateResponse
	err = c.doOnce(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transientError{err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(&result)
		case resp.StatusCode == http.StatusConflict:
			return models.ErrVersionConflict
		case resp.StatusCode == http.StatusNotFound:
			return models.ErrAccountNotFound
		case resp.StatusCode >= 500:
			return transientError{fmt.Errorf("account service returned %d", resp.StatusCode)}
		default:
			return fmt.Errorf("unexpected status %d from account service", resp.StatusCode)
		}
	})
	if err != nil {
		return 0, err
	}
	return result.Version, nil
}

// transientError marks failures worth a transport-level retry.
type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// doOnce runs a single attempt through the breaker. Transient failures are
// not retried; they surface as ErrAccountServiceUnavailable.
func (c *HTTPClient) doOnce(ctx context.Context, call func(ctx context.Context) error) error {
	_, err := c.cb.Execute(func() (any, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		return nil, call(attemptCtx)
	})
	if err == nil {
		return nil
	}
	if transient, ok := err.(transientError); ok {
		return fmt.Errorf("%w: %v", models.ErrAccountServiceUnavailable, transient.err)
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", models.ErrAccountServiceUnavailable, err)
	}
	return err
}

func (c *HTTPClient) doWithRetry(ctx context.Context, call func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, backoffDelay(c.backoffBase, attempt-1)); err != nil {
				return err
			}
		}

		_, err := c.cb.Execute(func() (any, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
			defer cancel()
			return nil, call(attemptCtx)
		})
		if err == nil {
			return nil
		}

		transient, ok := err.(transientError)
		if !ok {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return fmt.Errorf("%w: %v", models.ErrAccountServiceUnavailable, err)
			}
			return err
		}

		lastErr = transient.err
		c.logger.Warn("account service call failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(transient.err),
		)
	}

	return fmt.Errorf("%w: %v", models.ErrAccountServiceUnavailable, lastErr)
}

var _ interfaces.AccountStateClient = (*HTTPClient)(nil)
