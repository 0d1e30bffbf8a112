package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/uptimewatch/uptimewatch/internal/metrics"
	"github.com/uptimewatch/uptimewatch/internal/model"
)

const (
	userAgent    = "uptimewatch/1.0"
	maxBodyDrain = 64 << 10
)

// FailureCategory names why a probe got no HTTP response.
type FailureCategory string

const (
	FailureTimeout FailureCategory = "timeout"
	FailureDNS     FailureCategory = "dns"
	FailureRefused FailureCategory = "refused"
	FailureTLS     FailureCategory = "tls"
	FailureOther   FailureCategory = "other"
)

// Result is the outcome of one HTTP probe.
type Result struct {
	Status     model.Status
	StatusCode int // 0 when no response was received
	Elapsed    time.Duration
	Reason     string
}

type observationStore interface {
	Append(ctx context.Context, o *model.Observation) error
}

// Executor performs checks and is the only writer of observations.
type Executor struct {
	client  *http.Client
	timeout time.Duration
	store   observationStore
	now     func() time.Time
}

func New(store observationStore, timeout time.Duration) *Executor {
	return &Executor{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		store:   store,
		now:     time.Now,
	}
}

// Check probes the monitor's URL under the executor timeout and appends
// exactly one observation. A probe failure is a DOWN observation, not an
// error; errors are returned only when the observation could not be stored
// or ctx was canceled before the probe finished.
func (e *Executor) Check(ctx context.Context, m model.Monitor) (*model.Observation, error) {
	probeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	res := e.Probe(probeCtx, m.URL)
	cancel()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("check monitor %d: %w", m.ID, err)
	}

	metrics.RecordProbe(string(res.Status), res.Elapsed)

	obs := &model.Observation{
		MonitorID: m.ID,
		Status:    res.Status,
		CheckedAt: e.now().UTC(),
	}
	if res.StatusCode != 0 {
		code := res.StatusCode
		ms := int(res.Elapsed.Milliseconds())
		obs.StatusCode = &code
		obs.ResponseTimeMs = &ms
	}
	if res.Reason != "" {
		reason := res.Reason
		obs.Error = &reason
	}

	if err := e.store.Append(ctx, obs); err != nil {
		metrics.RecordObservationWriteFailure()
		return nil, fmt.Errorf("append observation for monitor %d: %w", m.ID, err)
	}
	return obs, nil
}

// Probe issues a single GET to url. Redirects are not followed, so a 3xx
// answer is UP on its own.
func (e *Executor) Probe(ctx context.Context, url string) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Status: model.StatusDown, Reason: string(FailureOther)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		category := Classify(err)
		slog.Debug("probe failed", "url", url, "category", category, "error", err)
		return Result{
			Status:  model.StatusDown,
			Elapsed: time.Since(start),
			Reason:  string(category),
		}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyDrain))
	resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return Result{Status: model.StatusUp, StatusCode: resp.StatusCode, Elapsed: elapsed}
	}
	return Result{
		Status:     model.StatusDown,
		StatusCode: resp.StatusCode,
		Elapsed:    elapsed,
		Reason:     statusLine(resp),
	}
}

func statusLine(resp *http.Response) string {
	if resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
}

// Classify maps a transport error to a failure category.
func Classify(err error) FailureCategory {
	if err == nil {
		return ""
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return FailureTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureRefused
	}

	var (
		verifyErr    *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		authorityErr x509.UnknownAuthorityError
		hostErr      x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	if errors.As(err, &verifyErr) || errors.As(err, &recordErr) || errors.As(err, &alertErr) ||
		errors.As(err, &authorityErr) || errors.As(err, &hostErr) || errors.As(err, &invalidErr) {
		return FailureTLS
	}

	return FailureOther
}
