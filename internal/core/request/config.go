// Package request describes a single backend call: where it goes, what it
// carries and how the pipeline should behave around it.
package request

import (
	"io"
	"log/slog"
	"net/url"
	"slices"
	"time"
)

// Header is one request header. Order is preserved and keys may repeat.
type Header struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

// TransportOption is an opaque option forwarded to the Requester.
type TransportOption struct {
	Key   string
	Value any
}

// Behavior holds the pipeline options of a call.
type Behavior struct {
	Retries    int
	Sleep      time.Duration
	LogLevel   slog.Level
	LogEnabled bool
	PageSize   int

	Validate     ValidateFunc
	Parse        ParseFunc
	AfterSuccess HookFunc
	AfterError   HookFunc
	Requester    Requester
}

// Config is the per-call descriptor. Values are never modified in place:
// With returns a new Config.
type Config struct {
	Service string
	Module  string
	Group   string

	Verb    string
	URL     string
	Query   string
	Headers []Header
	Body    any
	Options []TransportOption

	Behavior Behavior
}

// Update mutates a Config under construction.
type Update func(*Config)

// New creates a Config for service with built-in defaults applied.
func New(service string, updates ...Update) Config {
	c := Config{
		Service:  service,
		Verb:     "GET",
		Behavior: DefaultBehavior(slog.LevelInfo),
	}
	return c.With(updates...)
}

// With returns a copy of c with updates applied. List fields of the copy
// never share backing arrays with c.
func (c Config) With(updates ...Update) Config {
	next := c
	next.Headers = slices.Clone(c.Headers)
	next.Options = slices.Clone(c.Options)
	for _, u := range updates {
		u(&next)
	}
	return next
}

// Call returns the transport view of the descriptor.
func (c Config) Call() Call {
	return Call{
		Service: c.Service,
		Verb:    c.Verb,
		URL:     c.URL,
		Query:   c.Query,
		Body:    c.Body,
		Headers: slices.Clone(c.Headers),
		Options: slices.Clone(c.Options),
	}
}

// FullURL joins URL and Query.
func (c Config) FullURL() string {
	if c.Query == "" {
		return c.URL
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.RawQuery != "" {
		return c.URL + "&" + c.Query
	}
	u.RawQuery = c.Query
	return u.String()
}

// MaxAttempts is the total number of tries the retry budget allows.
func (c Config) MaxAttempts() int {
	return max(c.Behavior.Retries, 0) + 1
}

// Option returns the last value set for a transport option key.
func (c Config) Option(key string) (any, bool) {
	for i := len(c.Options) - 1; i >= 0; i-- {
		if c.Options[i].Key == key {
			return c.Options[i].Value, true
		}
	}
	return nil, false
}

// =============================================================================
// Scalar updates (replace)
// =============================================================================

// WithModule sets the owning module.
func WithModule(module string) Update {
	return func(c *Config) { c.Module = module }
}

// WithGroup sets the configuration group.
func WithGroup(group string) Update {
	return func(c *Config) { c.Group = group }
}

// WithVerb sets the HTTP verb.
func WithVerb(verb string) Update {
	return func(c *Config) { c.Verb = verb }
}

// WithURL sets the target URL.
func WithURL(u string) Update {
	return func(c *Config) { c.URL = u }
}

// WithQuery sets the raw query string.
func WithQuery(q string) Update {
	return func(c *Config) { c.Query = q }
}

// WithBody sets the request body. A reader is drained once and stored as
// []byte so every attempt sends the same bytes. If reading fails the reader
// is kept and the transport rejects it.
func WithBody(body any) Update {
	if r, ok := body.(io.Reader); ok {
		if data, err := io.ReadAll(r); err == nil {
			body = data
		}
	}
	return func(c *Config) { c.Body = body }
}

// WithBehavior replaces all behavior options.
func WithBehavior(b Behavior) Update {
	return func(c *Config) { c.Behavior = b }
}

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n int) Update {
	return func(c *Config) { c.Behavior.Retries = n }
}

// WithSleep sets the pause between attempts.
func WithSleep(d time.Duration) Update {
	return func(c *Config) { c.Behavior.Sleep = d }
}

// WithLogging sets the traffic log flag and level.
func WithLogging(enabled bool, level slog.Level) Update {
	return func(c *Config) {
		c.Behavior.LogEnabled = enabled
		c.Behavior.LogLevel = level
	}
}

// WithRequester sets the transport capability.
func WithRequester(r Requester) Update {
	return func(c *Config) { c.Behavior.Requester = r }
}

// WithValidate sets the validator.
func WithValidate(fn ValidateFunc) Update {
	return func(c *Config) { c.Behavior.Validate = fn }
}

// WithParse sets the parser.
func WithParse(fn ParseFunc) Update {
	return func(c *Config) { c.Behavior.Parse = fn }
}

// WithAfterSuccess sets the success hook.
func WithAfterSuccess(fn HookFunc) Update {
	return func(c *Config) { c.Behavior.AfterSuccess = fn }
}

// WithAfterError sets the failure hook.
func WithAfterError(fn HookFunc) Update {
	return func(c *Config) { c.Behavior.AfterError = fn }
}

// =============================================================================
// List updates (append)
// =============================================================================

// WithHeaders appends headers.
func WithHeaders(headers ...Header) Update {
	return func(c *Config) { c.Headers = append(c.Headers, headers...) }
}

// WithHeader appends a single header.
func WithHeader(key, value string) Update {
	return WithHeaders(Header{Key: key, Value: value})
}

// WithOptions appends transport options.
func WithOptions(opts ...TransportOption) Update {
	return func(c *Config) { c.Options = append(c.Options, opts...) }
}

// WithOption appends a single transport option.
func WithOption(key string, value any) Update {
	return WithOptions(TransportOption{Key: key, Value: value})
}
