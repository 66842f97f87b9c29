// Package delegate performs the remote calls to specialist role
// endpoints, combining the retry controller and the schema validator.
// Each call gets its own http.Client scoped to the attempt — no pooled
// client is shared across sessions — and the full accumulated context is
// sent every time; specialists are stateless per call.
package delegate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opsleuth/opsleuth/internal/retry"
	"github.com/opsleuth/opsleuth/internal/schema"
	"github.com/opsleuth/opsleuth/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("opsleuth-delegate")

// DefaultTimeout is the per-attempt delegation timeout.
const DefaultTimeout = 300 * time.Second

// TransportError classifies a failed specialist call. 4xx and
// malformed-request-class errors are non-retryable; 5xx, timeouts, and
// connection errors are retryable.
type TransportError struct {
	StatusCode int // 0 for connection/timeout errors
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("specialist returned %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("specialist unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt may succeed.
func (e *TransportError) Retryable() bool {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return false
	}
	return true
}

// CheckFunc inspects a validated output before the attempt is accepted.
// Returning a retryable error re-delegates within the same attempt
// budget; any other error aborts the delegation. The orchestrator uses
// this to fold quality-gate RETRY decisions into the attempt loop.
type CheckFunc func(out models.StructuredOutput, retriesRemain bool) error

// Observer is notified after every attempt with its outcome class.
type Observer func(attempt int, outcome string)

// Delegator performs delegation calls with bounded retries and schema
// validation. One Delegator is built per investigation session so that
// its connection resources live and die with the session.
type Delegator struct {
	baseURL  string
	timeout  time.Duration
	retries  *retry.Controller
	observer Observer

	// newClient builds the per-call client; swapped in tests.
	newClient func(timeout time.Duration) *http.Client
}

// New creates a Delegator for the role endpoints under baseURL
// (POST {baseURL}/{role}).
func New(baseURL string, timeout time.Duration, maxAttempts int) *Delegator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Delegator{
		baseURL: baseURL,
		timeout: timeout,
		retries: retry.NewController(maxAttempts),
		newClient: func(timeout time.Duration) *http.Client {
			return &http.Client{Timeout: timeout}
		},
	}
}

// Delegate calls the specialist up to the attempt bound, validating the
// embedded JSON each time and applying check (when non-nil) to the
// validated output. The context payload is resent unchanged on every
// retry. Attempts is the number of calls made.
func (d *Delegator) Delegate(ctx context.Context, req models.DelegationRequest, check CheckFunc) (result *models.DelegationResult, attempts int, err error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.timeout
	}

	attempts, err = d.retries.Do(ctx, string(req.Role), func(ctx context.Context, attempt int) error {
		res, callErr := d.callOnce(ctx, req, timeout, attempt)
		if callErr == nil && check != nil {
			callErr = check(res.Output, attempt < d.retries.MaxAttempts)
		}
		if d.observer != nil {
			d.observer(attempt, outcomeClass(callErr))
		}
		if callErr != nil {
			return callErr
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, attempts, err
	}
	return result, attempts, nil
}

// callOnce performs a single specialist call and validates the response.
func (d *Delegator) callOnce(ctx context.Context, req models.DelegationRequest, timeout time.Duration, attempt int) (*models.DelegationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "delegate."+string(req.Role),
		oteltrace.WithAttributes(
			attribute.String("opsleuth.role", string(req.Role)),
			attribute.Int("opsleuth.attempt", attempt),
		),
	)
	defer span.End()

	body, err := json.Marshal(map[string]interface{}{
		"task":    req.Task,
		"context": req.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal delegation request: %w", err)
	}

	endpoint := d.baseURL + "/" + string(req.Role)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create delegation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// Client scoped to this single call; released when the call returns.
	client := d.newClient(timeout)
	defer client.CloseIdleConnections()

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		span.SetAttributes(attribute.String("opsleuth.outcome", "transport_error"))
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode >= 400 {
		span.SetAttributes(
			attribute.Int("http.response.status_code", resp.StatusCode),
			attribute.String("opsleuth.outcome", "http_error"),
		)
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Err:        errors.New(snippet(raw)),
		}
	}

	output, err := schema.Validate(req.Role, string(raw))
	if err != nil {
		span.SetAttributes(attribute.String("opsleuth.outcome", "parse_error"))
		log.Warn().
			Str("role", string(req.Role)).
			Int("attempt", attempt).
			Err(err).
			Msg("Specialist response failed validation")
		return nil, err
	}

	span.SetAttributes(
		attribute.String("opsleuth.outcome", "ok"),
		attribute.Float64("opsleuth.confidence", output.ReportedConfidence()),
	)
	log.Info().
		Str("role", string(req.Role)).
		Int("attempt", attempt).
		Dur("latency", latency).
		Float64("confidence", output.ReportedConfidence()).
		Msg("Delegation succeeded")

	return &models.DelegationResult{
		RawText:    string(raw),
		Output:     output,
		StatusCode: resp.StatusCode,
		Latency:    latency,
	}, nil
}

// outcomeClass buckets an attempt error for observability.
func outcomeClass(err error) string {
	if err == nil {
		return "ok"
	}
	var te *TransportError
	if errors.As(err, &te) {
		if te.StatusCode >= 400 && te.StatusCode < 500 {
			return "client_error"
		}
		return "transport_error"
	}
	var pe *schema.ParseError
	if errors.As(err, &pe) {
		return "parse_error"
	}
	if retry.IsRetryable(err) {
		return "retry"
	}
	return "rejected"
}

// WithObserver sets the per-attempt outcome callback.
func (d *Delegator) WithObserver(fn Observer) *Delegator {
	d.observer = fn
	return d
}

// WithClientFactory overrides per-call client construction, for tests.
func (d *Delegator) WithClientFactory(fn func(timeout time.Duration) *http.Client) *Delegator {
	d.newClient = fn
	return d
}

// WithSleep disables or replaces backoff sleeps, for tests.
func (d *Delegator) WithSleep(fn func(ctx context.Context, dur time.Duration) error) *Delegator {
	d.retries.WithSleep(fn)
	return d
}

func snippet(b []byte) string {
	const max = 200
	s := string(b)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
