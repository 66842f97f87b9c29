package delegate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opsleuth/opsleuth/internal/delegate"
	"github.com/opsleuth/opsleuth/internal/retry"
	"github.com/opsleuth/opsleuth/pkg/models"
)

const sreResponse = `Looked at the logs.
` + "```json" + `
{"status":"success","confidence":0.9,"evidence":{"error_signature":"NPE","stack_trace":"at checkout"},"blockers":[],"recommendations":[]}
` + "```"

func newDelegator(baseURL string) *delegate.Delegator {
	return delegate.New(baseURL, 5*time.Second, 3).
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
}

func sreRequest() models.DelegationRequest {
	return models.DelegationRequest{
		Role:    models.RoleSRE,
		Task:    "triage the incident",
		Context: map[string]interface{}{"user_request": "checkout down"},
	}
}

func TestDelegateSuccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(sreResponse))
	}))
	defer srv.Close()

	res, attempts, err := newDelegator(srv.URL).Delegate(context.Background(), sreRequest(), nil)
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if gotPath != "/sre" {
		t.Errorf("request path = %q, want /sre", gotPath)
	}
	sre, ok := res.Output.(*models.SREOutput)
	if !ok {
		t.Fatalf("Output type = %T, want *SREOutput", res.Output)
	}
	if sre.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", sre.Confidence)
	}
	if res.Latency <= 0 {
		t.Error("Latency should be recorded")
	}
}

func TestDelegateRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(sreResponse))
	}))
	defer srv.Close()

	_, attempts, err := newDelegator(srv.URL).Delegate(context.Background(), sreRequest(), nil)
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDelegateClientErrorIsFatal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, attempts, err := newDelegator(srv.URL).Delegate(context.Background(), sreRequest(), nil)
	if err == nil {
		t.Fatal("Delegate() should fail on 400")
	}
	if attempts != 1 || atomic.LoadInt32(&calls) != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1/1 (4xx is non-retryable)", attempts, calls)
	}
	if retry.IsRetryable(err) {
		t.Error("4xx error must not be retryable")
	}
}

func TestDelegateParseErrorIsRetryable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.Write([]byte("no json here, sorry"))
			return
		}
		w.Write([]byte(sreResponse))
	}))
	defer srv.Close()

	res, attempts, err := newDelegator(srv.URL).Delegate(context.Background(), sreRequest(), nil)
	if err != nil {
		t.Fatalf("Delegate() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if res.Output == nil {
		t.Error("Output should be populated after the successful attempt")
	}
}

func TestDelegateParseErrorExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("still no json"))
	}))
	defer srv.Close()

	_, attempts, err := newDelegator(srv.URL).Delegate(context.Background(), sreRequest(), nil)
	if err == nil {
		t.Fatal("Delegate() should fail after exhaustion")
	}
	if attempts != 3 || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3/3", attempts, calls)
	}
}

func TestDelegateConnectionRefusedIsRetryable(t *testing.T) {
	// A server that is immediately closed yields connection errors.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, attempts, err := newDelegator(url).Delegate(context.Background(), sreRequest(), nil)
	if err == nil {
		t.Fatal("Delegate() should fail when the endpoint is down")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (connection errors retry)", attempts)
	}
}

func TestTransportErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{0, true},    // connection error
		{400, false}, // malformed request class
		{404, false},
		{429, false},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		e := &delegate.TransportError{StatusCode: tt.status}
		if e.Retryable() != tt.retryable {
			t.Errorf("TransportError{%d}.Retryable() = %v, want %v", tt.status, e.Retryable(), tt.retryable)
		}
	}
}

type gateRetryErr struct{}

func (e *gateRetryErr) Error() string   { return "gate requested retry" }
func (e *gateRetryErr) Retryable() bool { return true }

func TestDelegateCheckSharesAttemptBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(sreResponse))
	}))
	defer srv.Close()

	var outcomes []string
	d := newDelegator(srv.URL).WithObserver(func(attempt int, outcome string) {
		outcomes = append(outcomes, outcome)
	})

	// The check rejects every attempt with a retryable error, so the
	// shared budget of 3 attempts is consumed by gate retries alone.
	_, attempts, err := d.Delegate(context.Background(), sreRequest(),
		func(out models.StructuredOutput, retriesRemain bool) error {
			return &gateRetryErr{}
		})
	if err == nil {
		t.Fatal("Delegate() should surface the final check error")
	}
	if attempts != 3 || atomic.LoadInt32(&calls) != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3/3", attempts, calls)
	}
	if len(outcomes) != 3 {
		t.Fatalf("observer saw %d attempts, want 3", len(outcomes))
	}
	for i, o := range outcomes {
		if o != "retry" {
			t.Errorf("outcomes[%d] = %q, want retry", i, o)
		}
	}
}

func TestDelegateCheckSeesRetriesRemain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sreResponse))
	}))
	defer srv.Close()

	var remain []bool
	newDelegator(srv.URL).Delegate(context.Background(), sreRequest(),
		func(out models.StructuredOutput, retriesRemain bool) error {
			remain = append(remain, retriesRemain)
			if len(remain) < 3 {
				return &gateRetryErr{}
			}
			return nil
		})
	want := []bool{true, true, false}
	if len(remain) != 3 {
		t.Fatalf("check ran %d times, want 3", len(remain))
	}
	for i := range want {
		if remain[i] != want[i] {
			t.Errorf("retriesRemain on attempt %d = %v, want %v", i+1, remain[i], want[i])
		}
	}
}
