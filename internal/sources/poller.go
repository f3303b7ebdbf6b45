package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/time/rate"

	"github.com/roach88/streamz/internal/stream"
)

// PollConfig describes one polled HTTP endpoint.
type PollConfig struct {
	URL string

	// Period between the starts of two requests. The first request is sent
	// immediately.
	Period time.Duration

	// Method is GET or POST. Defaults to GET.
	Method string

	Headers map[string]string

	// Body is sent with every request when non-empty.
	Body string
}

// Poller requests an HTTP endpoint on a fixed period and hands every
// response body to its handler.
//
// A request that overruns the period delays the next one rather than
// causing a burst. Non-2xx responses are not errors: their body is emitted
// like any other. Transport failures end the run with an error.
type Poller struct {
	cfg    PollConfig
	header http.Header
	client *http.Client
	logger *slog.Logger
	handle func(ctx context.Context, body []byte) error
}

// NewPoller returns a poller that emits each response body as a string.
func NewPoller(cfg PollConfig, out *stream.Source[string], opts ...Option) (*Poller, error) {
	if out == nil {
		return nil, configError("poller %q has no output source", cfg.URL)
	}
	return newPoller(cfg, func(ctx context.Context, body []byte) error {
		return out.EmitContext(ctx, string(body))
	}, opts)
}

// NewJSONPoller returns a poller that decodes each response body into a T.
// A body that does not decode ends the run with an error.
func NewJSONPoller[T any](cfg PollConfig, out *stream.Source[T], opts ...Option) (*Poller, error) {
	if out == nil {
		return nil, configError("poller %q has no output source", cfg.URL)
	}
	return newPoller(cfg, func(ctx context.Context, body []byte) error {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return out.EmitContext(ctx, v)
	}, opts)
}

func newPoller(cfg PollConfig, handle func(context.Context, []byte) error, opts []Option) (*Poller, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, configError("poll url %q: %v", cfg.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, configError("poll url %q: unsupported scheme %q", cfg.URL, u.Scheme)
	}
	if cfg.Period <= 0 {
		return nil, configError("poll period %s must be positive", cfg.Period)
	}

	cfg.Method = strings.ToUpper(cfg.Method)
	switch cfg.Method {
	case "":
		cfg.Method = http.MethodGet
	case http.MethodGet, http.MethodPost:
	default:
		return nil, configError("poll method %q: only GET and POST are supported", cfg.Method)
	}

	header := make(http.Header, len(cfg.Headers))
	for name, value := range cfg.Headers {
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, configError("invalid header name %q", name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, configError("invalid value for header %q", name)
		}
		header.Set(name, value)
	}

	o := buildOptions(opts)
	return &Poller{
		cfg:    cfg,
		header: header,
		client: o.client,
		logger: o.logger.With("source", "http", "url", cfg.URL),
		handle: handle,
	}, nil
}

// Run polls until ctx is done or a request fails.
func (p *Poller) Run(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Every(p.cfg.Period), 1)

	for {
		if err := waitTurn(ctx, limiter); err != nil {
			return err
		}

		body, err := p.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := p.handle(ctx, body); err != nil {
			return err
		}
	}
}

// waitTurn blocks until the limiter grants the next poll. Unlike
// Limiter.Wait it never gives up early because of a deadline; it returns
// ctx.Err() only once ctx is actually done.
func waitTurn(ctx context.Context, limiter *rate.Limiter) error {
	r := limiter.Reserve()
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

func (p *Poller) poll(ctx context.Context) ([]byte, error) {
	var reqBody io.Reader
	if p.cfg.Body != "" {
		reqBody = bytes.NewReader([]byte(p.cfg.Body))
	}

	req, err := http.NewRequestWithContext(ctx, p.cfg.Method, p.cfg.URL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for name, values := range p.header {
		req.Header[name] = values
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", p.cfg.Method, p.cfg.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Warn("non-success response", "status", resp.StatusCode)
	} else {
		p.logger.Debug("polled", "status", resp.StatusCode, "bytes", len(body))
	}
	return body, nil
}
