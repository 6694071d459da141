// Package client orchestrates one AI request end to end: it validates the
// configuration, builds the payload, normalizes the endpoint, performs the
// HTTP call under a deadline, and dispatches the body to the response
// parser or the stream reader. Every failure leaving this package is a
// classified *aierr.Error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/inkdrift/aicore/ai"
	"github.com/inkdrift/aicore/aierr"
	"github.com/inkdrift/aicore/endpoint"
	"github.com/inkdrift/aicore/protocol"
	"github.com/inkdrift/aicore/schema"
	"github.com/inkdrift/aicore/stream"
	"github.com/inkdrift/aicore/thinking"
)

const defaultTimeout = 60 * time.Second

// Client performs requests against one provider/model pair. It is reusable
// across sequential calls; two concurrent calls on the same instance would
// fight over the single cancellation slot.
type Client struct {
	provider   ai.Provider
	model      ai.ModelConfig
	httpClient *http.Client
	timeout    time.Duration
	tags       []thinking.Tag
	debug      bool
	log        *logrus.Entry

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithDebug enables debug logging of the request lifecycle.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithTags overrides the thinking delimiter table.
func WithTags(tags []thinking.Tag) Option {
	return func(c *Client) {
		c.tags = tags
	}
}

// New creates a Client for the given provider and model.
func New(provider ai.Provider, model ai.ModelConfig, opts ...Option) *Client {
	c := &Client{
		provider:   provider,
		model:      model,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		tags:       thinking.DefaultTags(),
		log:        logrus.WithField("component", "ai-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Request performs a non-streaming call and returns the normalized result.
func (c *Client) Request(ctx context.Context, opts ai.RequestOptions) (*ai.Result, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	body, url, err := c.prepare(opts, false)
	if err != nil {
		return nil, err
	}

	ctx, done := c.arm(ctx)
	defer done()

	respBody, status, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyStatus(status, respBody)
	}

	result, err := protocol.Parse(respBody)
	if err != nil {
		return nil, err
	}
	c.debugf(logrus.Fields{"url": url, "content_len": len(result.Content)}, "request completed")
	return result, nil
}

// RequestStream performs a streaming call. The outcome is reported entirely
// through the callbacks: ordered OnChunk/OnThinking deltas followed by
// exactly one OnComplete or OnError.
func (c *Client) RequestStream(ctx context.Context, opts ai.RequestOptions, callbacks ai.StreamCallbacks) {
	fail := func(err error) {
		if callbacks.OnError != nil {
			callbacks.OnError(c.classify(err, ""))
		}
	}

	if err := c.validate(); err != nil {
		fail(err)
		return
	}
	body, url, err := c.prepare(opts, true)
	if err != nil {
		fail(err)
		return
	}

	ctx, done := c.arm(ctx)
	defer done()

	req, err := c.newRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		fail(err)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		fail(err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		fail(classifyStatus(resp.StatusCode, errBody))
		return
	}

	reader := stream.New(c.model.APIFormat, c.tags, callbacks)
	err = reader.Consume(ctx, resp.Body)
	c.debugf(logrus.Fields{"url": url, "aggregate_len": len(reader.Aggregate()), "err": err}, "stream finished")
}

// ListModels fetches the provider's model listing.
func (c *Client) ListModels(ctx context.Context) ([]ai.ModelInfo, error) {
	if err := c.validateProvider(); err != nil {
		return nil, err
	}
	url, err := endpoint.NormalizeModels(c.provider.Endpoint)
	if err != nil {
		return nil, err
	}

	ctx, done := c.arm(ctx)
	defer done()

	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classify(err, "")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.classify(err, "")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}
	return protocol.ParseModelList(respBody)
}

// Cancel invalidates the active cancellation token, aborting any in-flight
// network read. A later call simply replaces the token, so cancelling an
// already-finished request is a no-op.
func (c *Client) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// validate fails fast before any network access.
func (c *Client) validate() error {
	if err := c.validateProvider(); err != nil {
		return err
	}
	if c.model.Name == "" {
		return aierr.New(aierr.KindInvalidModel, "model name is empty")
	}
	return nil
}

func (c *Client) validateProvider() error {
	if c.provider == (ai.Provider{}) {
		return aierr.New(aierr.KindNoProvider, "no AI provider configured")
	}
	if c.provider.APIKey == "" {
		return aierr.New(aierr.KindInvalidAPIKey, "provider API key is empty")
	}
	if c.provider.Endpoint == "" {
		return aierr.New(aierr.KindInvalidEndpoint, "provider endpoint is empty")
	}
	return nil
}

// prepare builds the marshaled payload and the normalized endpoint URL.
func (c *Client) prepare(opts ai.RequestOptions, streaming bool) ([]byte, string, error) {
	in := protocol.BuildInput{
		Model:        c.model,
		Prompt:       opts.Prompt,
		SystemPrompt: opts.SystemPrompt,
		Stream:       streaming,
	}
	if opts.ResponseSchema != nil {
		raw, err := schema.FromValue(opts.ResponseSchema)
		if err != nil {
			return nil, "", aierr.Wrap(aierr.KindRequestFailed, "generating response schema", err)
		}
		in.Schema = &protocol.ResponseSchema{
			Name:   schemaName(opts.ResponseSchema),
			Strict: true,
			Schema: schema.RequireAll(raw),
		}
	}

	payload, err := protocol.BuildRequest(in)
	if err != nil {
		return nil, "", err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, "", aierr.Wrap(aierr.KindRequestFailed, "marshaling request payload", err)
	}

	url, err := endpoint.Normalize(c.provider.Endpoint, c.model.APIFormat)
	if err != nil {
		return nil, "", err
	}
	c.debugf(logrus.Fields{"url": url, "model": c.model.Name, "stream": streaming, "payload_len": len(body)}, "prepared request")
	return body, url, nil
}

// arm wraps ctx with the client timeout and installs the cancel func as the
// instance's single live cancellation token, replacing (without firing) the
// token of any prior call.
func (c *Client) arm(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	return ctx, cancel
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	var payload io.Reader
	if body != nil {
		payload = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, payload)
	if err != nil {
		return nil, aierr.New(aierr.KindInvalidEndpoint, "invalid request URL: "+url)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.provider.APIKey)
	return req, nil
}

// post sends the payload and reads the complete response body.
func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, int, error) {
	req, err := c.newRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, c.classify(err, "")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, c.classify(err, "")
	}
	c.debugf(logrus.Fields{"url": url, "status": resp.StatusCode, "body_len": len(respBody)}, "received response")
	return respBody, resp.StatusCode, nil
}

// classify is the single normalization pass for transport-level failures,
// attaching the configured deadline when the timeout fired.
func (c *Client) classify(err error, partial string) *aierr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		timeoutErr := aierr.Timeout(c.timeout)
		timeoutErr.Cause = err
		return timeoutErr
	}
	return aierr.Classify(err, partial)
}

// classifyStatus maps a non-success HTTP status to the taxonomy, pulling
// the upstream error message out of the body when there is one.
func classifyStatus(status int, body []byte) *aierr.Error {
	msg := upstreamMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("request failed with status %d", status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return aierr.New(aierr.KindInvalidAPIKey, msg)
	case status == http.StatusNotFound:
		return aierr.New(aierr.KindInvalidEndpoint, msg)
	default:
		return aierr.RequestFailed(status, msg)
	}
}

// upstreamMessage extracts error.message from an API error body.
func upstreamMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Error.Message
}

func (c *Client) debugf(fields logrus.Fields, msg string) {
	if c.debug {
		c.log.WithFields(fields).Debug(msg)
	}
}

// schemaName derives the json_schema name from the value's type.
func schemaName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return "response"
	}
	return t.Name()
}
