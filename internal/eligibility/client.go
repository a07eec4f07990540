package eligibility

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"kioskvote.org/internal/obs"
)

const maxReplyBytes = 1 << 20

// HTTPClient posts Big5 XML lookups to the remote service.
type HTTPClient struct {
	endpoint string
	clientID string
	password string
	http     *http.Client
}

// NewHTTPClient builds a client. A zero timeout falls back to ten seconds.
func NewHTTPClient(endpoint, clientID, password string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		clientID: clientID,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
}

// Lookup queries the service for uid with serial appended.
func (c *HTTPClient) Lookup(ctx context.Context, uid, serial string) (Result, error) {
	start := time.Now()
	res, err := c.lookup(ctx, uid+serial)
	obs.ObserveEligibility(lookupLabel(res, err), time.Since(start))
	return res, err
}

func (c *HTTPClient) lookup(ctx context.Context, stuid string) (Result, error) {
	body, err := EncodeRequest(c.clientID, c.password, stuid)
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "text/xml;charset=big5")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxReplyBytes))
		return Result{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return Result{}, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return DecodeReply(raw)
}

func lookupLabel(res Result, err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case err != nil:
		return "unavailable"
	case res.Error != "":
		return "rejected"
	case res.Eligible():
		return "eligible"
	default:
		return "ineligible"
	}
}
