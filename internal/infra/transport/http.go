// Package transport provides the HTTP Requester used to reach backend
// services.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vietddude/invoker/internal/core/request"
	"github.com/vietddude/invoker/internal/metrics"
)

// Transport option keys read from request.Call.Options.
const (
	OptionTimeout     = "timeout"      // time.Duration or duration string
	OptionContentType = "content_type" // overrides application/json
)

// ErrThrottled is returned while a backend asked us to back off.
var ErrThrottled = errors.New("backend throttled")

// ErrStreamBody is returned for a body that is still an io.Reader. Such a
// body could only be sent once; request.WithBody buffers readers.
var ErrStreamBody = errors.New("request body is an unbuffered reader")

// Response is the raw result of an HTTP call.
type Response struct {
	StatusCode int           `json:"status_code"`
	Header     http.Header   `json:"header"`
	Body       []byte        `json:"-"`
	Latency    time.Duration `json:"latency"`
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// MarshalJSON embeds a JSON body as is and any other body as a string.
func (r *Response) MarshalJSON() ([]byte, error) {
	type alias Response
	out := struct {
		*alias
		Body any `json:"body,omitempty"`
	}{alias: (*alias)(r)}
	if json.Valid(r.Body) {
		out.Body = json.RawMessage(r.Body)
	} else if len(r.Body) > 0 {
		out.Body = string(r.Body)
	}
	return json.Marshal(out)
}

// String renders the response for logs and snapshots.
func (r *Response) String() string {
	return fmt.Sprintf("HTTP %d (%v)\n%s", r.StatusCode, r.Latency.Round(time.Millisecond), r.Body)
}

// HTTPRequester implements request.Requester over HTTP.
type HTTPRequester struct {
	name       string
	httpClient *http.Client

	Monitor *Monitor
}

// NewHTTPRequester creates an HTTP requester. timeout bounds each round
// trip unless a call overrides it with the timeout option.
func NewHTTPRequester(name string, timeout time.Duration) *HTTPRequester {
	return &HTTPRequester{
		name: name,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Monitor: NewMonitor(),
	}
}

// Name returns the requester's name.
func (p *HTTPRequester) Name() string {
	return p.name
}

// Do performs the call. Non-2xx responses are returned together with an
// error so the caller can snapshot them.
func (p *HTTPRequester) Do(ctx context.Context, call request.Call) (any, error) {
	if status := p.Monitor.Status(); status == StatusThrottled || status == StatusBlocked {
		return nil, fmt.Errorf("%w (%s), retry after: %v", ErrThrottled, status, p.Monitor.RetryAfter())
	}

	if d, ok, err := timeoutOption(call.Options); err != nil {
		return nil, err
	} else if ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	body, contentType, err := encodeBody(call)
	if err != nil {
		p.Monitor.RecordFailure()
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, call.Verb, fullURL(call), body)
	if err != nil {
		p.Monitor.RecordFailure()
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, h := range call.Headers {
		req.Header.Add(h.Key, h.Value)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.Monitor.RecordFailure()
		metrics.TransportLatency.WithLabelValues(call.Service, "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("http call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	latency := time.Since(start)
	metrics.TransportLatency.WithLabelValues(call.Service, strconv.Itoa(resp.StatusCode)).Observe(latency.Seconds())

	result := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Latency:    latency,
	}
	if err != nil {
		p.Monitor.RecordFailure()
		return result, fmt.Errorf("read response: %w", err)
	}

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		p.Monitor.RecordThrottle(resp.StatusCode, retryAfter)
		p.Monitor.RecordFailure()
		return result, fmt.Errorf("rate limited (429), retry after: %s", retryAfter)
	}

	// IP blocked detection
	if resp.StatusCode == http.StatusForbidden {
		p.Monitor.RecordThrottle(resp.StatusCode, "")
		p.Monitor.RecordFailure()
		return result, fmt.Errorf("blocked (403)")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.Monitor.RecordFailure()
		if p.Monitor.DetectThrottlePattern(string(data)) {
			return result, fmt.Errorf("throttle detected in response: http %d", resp.StatusCode)
		}
		return result, fmt.Errorf("http %d", resp.StatusCode)
	}

	p.Monitor.RecordRequest(latency)
	return result, nil
}

// Close releases idle connections.
func (p *HTTPRequester) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func fullURL(call request.Call) string {
	return request.Config{URL: call.URL, Query: call.Query}.FullURL()
}

func encodeBody(call request.Call) (io.Reader, string, error) {
	contentType := "application/json"
	for _, o := range call.Options {
		if o.Key == OptionContentType {
			if s, ok := o.Value.(string); ok {
				contentType = s
			}
		}
	}

	switch b := call.Body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), contentType, nil
	case string:
		return bytes.NewReader([]byte(b)), contentType, nil
	case io.Reader:
		return nil, "", ErrStreamBody
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("marshal request: %w", err)
		}
		return bytes.NewReader(data), contentType, nil
	}
}

func timeoutOption(opts []request.TransportOption) (time.Duration, bool, error) {
	for i := len(opts) - 1; i >= 0; i-- {
		if opts[i].Key != OptionTimeout {
			continue
		}
		switch v := opts[i].Value.(type) {
		case time.Duration:
			return v, true, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return 0, false, fmt.Errorf("timeout option: %w", err)
			}
			return d, true, nil
		default:
			return 0, false, fmt.Errorf("timeout option: unsupported type %T", v)
		}
	}
	return 0, false, nil
}
