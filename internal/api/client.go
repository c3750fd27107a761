package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/djmurphy6/pond/internal/session"
)

const maxAttempts = 2

// Operations that must never carry a bearer token, regardless of session
// state. Refresh is included: it authenticates with the cookie alone.
var unauthenticatedOps = map[string]bool{
	"Register":    true,
	"Login":       true,
	"VerifyEmail": true,
	"Refresh":     true,
}

var pathToken = regexp.MustCompile(`:(\w+)`)

// Descriptor describes one request to the pipeline. It is consumed exactly
// once per attempt; the pipeline rebuilds the outgoing request on retry.
type Descriptor struct {
	Path   string
	Method string
	// Body is JSON-serialized unless it is an io.Reader, which passes
	// through untouched (multipart uploads). GET requests send no body.
	Body   any
	Params map[string]any
	// Op names the operation for auth exemption and error tagging.
	Op      string
	Headers map[string]string
}

// Result is the success arm of a pipeline call: decoded-ready raw bytes or
// an explicit no-content marker. It is never populated alongside an error.
type Result struct {
	Status    int
	Body      []byte
	NoContent bool
}

// Client is the HTTP request pipeline. It attaches bearer auth from the
// injected session, retries exactly once after a silent token refresh on
// 401, and returns every expected failure as a *StatusError value.
//
// The underlying http.Client carries a cookie jar so the server-set refresh
// cookie rides along automatically, which the refresh flow depends on.
type Client struct {
	baseURL string
	sess    *session.Session
	hc      *http.Client
	log     *slog.Logger

	// Concurrent 401s coalesce into one in-flight refresh; every waiter
	// shares its outcome instead of racing to rewrite the token.
	refreshGroup singleflight.Group
}

func New(baseURL string, sess *session.Session) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		sess:    sess,
		hc: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		log: slog.Default(),
	}, nil
}

// Session exposes the injected session state for callers that need the
// current token, e.g. to open a realtime connection.
func (c *Client) Session() *session.Session {
	return c.sess
}

// rawBody is a pass-through body snapshot, replayable across retries.
type rawBody []byte

// Do runs one request through the pipeline.
func (c *Client) Do(ctx context.Context, d Descriptor) (*Result, error) {
	// Snapshot reader bodies up front so a retried attempt does not send a
	// drained stream.
	if r, ok := d.Body.(io.Reader); ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%s: read body: %w", d.Op, err)
		}
		d.Body = rawBody(data)
	}

	refreshed := false

	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, sentToken, err := c.buildRequest(ctx, d)
		if err != nil {
			return nil, err
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Op, err)
		}

		if resp.StatusCode == http.StatusUnauthorized && sentToken != "" {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if refreshed {
				// The refreshed token was rejected too; no third attempt.
				return nil, sessionExpired(d.Op)
			}
			if err := c.refresh(ctx, sentToken); err != nil {
				c.log.Warn("Token refresh failed", "op", d.Op, "error", err)
				if rerr := c.sess.Reset(ctx); rerr != nil {
					c.log.Warn("Failed to clear persisted session", "error", rerr)
				}
				return nil, sessionExpired(d.Op)
			}
			refreshed = true
			continue
		}

		return c.decodeResponse(d, resp)
	}

	return nil, &StatusError{
		Op:         d.Op,
		Status:     StatusRetryExhausted,
		StatusText: "Loop Ended",
		Message:    "request attempts exhausted",
	}
}

func sessionExpired(op string) *StatusError {
	return &StatusError{
		Op:         op,
		Status:     http.StatusUnauthorized,
		StatusText: http.StatusText(http.StatusUnauthorized),
		Message:    "session expired",
	}
}

// buildRequest assembles one attempt. The returned string is the bearer token
// the request carries, empty for unauthenticated operations.
func (c *Client) buildRequest(ctx context.Context, d Descriptor) (*http.Request, string, error) {
	url := c.baseURL + substitutePath(d.Path, d.Params)

	var body io.Reader
	passthrough := false
	if d.Method != http.MethodGet && d.Body != nil {
		if raw, ok := d.Body.(rawBody); ok {
			body = bytes.NewReader(raw)
			passthrough = true
		} else {
			encoded, err := json.Marshal(d.Body)
			if err != nil {
				return nil, "", fmt.Errorf("%s: encode body: %w", d.Op, err)
			}
			body = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, url, body)
	if err != nil {
		return nil, "", fmt.Errorf("%s: build request: %w", d.Op, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil && !passthrough {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}

	sent := ""
	if token, ok := c.sess.Token(); ok && !unauthenticatedOps[d.Op] {
		req.Header.Set("Authorization", "Bearer "+token)
		sent = token
	}

	return req, sent, nil
}

// substitutePath replaces :name tokens with stringified params. Tokens match
// whole names only, so :id never partially replaces :idx; tokens without a
// matching param are left intact.
func substitutePath(path string, params map[string]any) string {
	if len(params) == 0 {
		return path
	}
	return pathToken.ReplaceAllStringFunc(path, func(tok string) string {
		if v, ok := params[tok[1:]]; ok {
			return fmt.Sprint(v)
		}
		return tok
	})
}

func (c *Client) decodeResponse(d Descriptor, resp *http.Response) (*Result, error) {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", d.Op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{
			Op:         d.Op,
			Status:     resp.StatusCode,
			StatusText: http.StatusText(resp.StatusCode),
			Body:       string(raw),
		}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			se.Message = body.Error
		}
		return nil, se
	}

	if d.Headers["Accept"] == "text/csv" {
		return &Result{Status: resp.StatusCode, Body: raw}, nil
	}

	if len(raw) == 0 {
		return &Result{Status: resp.StatusCode, NoContent: true}, nil
	}

	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") {
		return &Result{Status: resp.StatusCode, Body: raw}, nil
	}

	return nil, &StatusError{
		Op:         d.Op,
		Status:     StatusUnknownContent,
		StatusText: "Unknown Content Type",
		Message:    fmt.Sprintf("unexpected content type %q", ct),
		Body:       string(raw),
	}
}

// refresh exchanges the refresh cookie for a new access token. Concurrent
// callers share a single in-flight attempt, and callers whose rejected token
// was already replaced skip the round trip entirely.
func (c *Client) refresh(ctx context.Context, stale string) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		if tok, ok := c.sess.Token(); ok && tok != stale {
			return nil, nil
		}
		return nil, c.doRefresh(ctx)
	})
	return err
}

func (c *Client) doRefresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/refresh", nil)
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	// No bearer header: the refresh endpoint authenticates with the
	// HTTP-only cookie carried by the jar.

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return fmt.Errorf("refresh returned unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	var body refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if body.AccessToken == "" {
		return fmt.Errorf("refresh response missing access token")
	}

	if err := c.sess.SetToken(ctx, body.AccessToken); err != nil {
		return err
	}

	c.log.Debug("Access token refreshed")
	return nil
}
