// Package voicevox provides a client for a VOICEVOX-compatible speech
// synthesis engine. Synthesis is a two-step HTTP exchange: POST /audio_query
// builds a synthesis query from text and a style ID, then POST /synthesis
// renders the (parameter-patched) query into a WAV clip.
//
// The client owns the retry/timeout policy for the synthesis boundary:
// transient failures are retried once with exponential backoff and then
// surfaced as ErrUnavailable; a well-formed HTTP exchange that yields an
// unusable payload is surfaced as ErrInvalidResponse without retry.
//
// Client is safe for concurrent use.
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrUnavailable indicates the engine could not be reached (transport
	// failure, timeout, or 5xx) even after the retry budget was spent.
	ErrUnavailable = errors.New("voicevox: engine unavailable")

	// ErrInvalidResponse indicates the engine answered but the payload is
	// unusable (empty audio, undecodable query, or a 4xx rejection). Not
	// transient; never retried.
	ErrInvalidResponse = errors.New("voicevox: invalid engine response")
)

const (
	defaultTimeout   = 10 * time.Second
	defaultCacheSize = 64
	defaultCacheTTL  = 30 * time.Second

	// maxAttempts is the total number of synthesis attempts per request
	// (initial call plus one retry).
	maxAttempts = 2
)

// synthKey identifies a memoizable synthesis request.
type synthKey struct {
	text   string
	params Params
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The client's Timeout
// is left untouched; use WithTimeout to bound individual attempts.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each individual HTTP attempt. Default 10 s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithCache sizes the synthesis memo cache. Identical (text, params) pairs
// within ttl are served from memory instead of hitting the engine. The cache
// is correctness-neutral: a miss always produces an equivalent clip.
// size <= 0 disables memoization.
func WithCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheSize = size
		c.cacheTTL = ttl
	}
}

// Client talks to a VOICEVOX-compatible engine over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	cacheSize  int
	cacheTTL   time.Duration
	cache      *expirable.LRU[synthKey, []byte]
}

// New creates a Client for the engine at baseURL (e.g., "http://127.0.0.1:50021").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("voicevox: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		cacheSize:  defaultCacheSize,
		cacheTTL:   defaultCacheTTL,
	}
	for _, o := range opts {
		o(c)
	}
	if c.cacheSize > 0 {
		c.cache = expirable.NewLRU[synthKey, []byte](c.cacheSize, nil, c.cacheTTL)
	}
	return c, nil
}

// Synthesize renders text into a WAV clip using the given voice parameters.
// Returns ErrUnavailable after the retry budget is exhausted on transient
// failures, or ErrInvalidResponse for unusable payloads.
func (c *Client) Synthesize(ctx context.Context, text string, p Params) ([]byte, error) {
	key := synthKey{text: text, params: p}
	if c.cache != nil {
		if clip, ok := c.cache.Get(key); ok {
			return clip, nil
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	clip, err := backoff.Retry(ctx, func() ([]byte, error) {
		return c.synthesizeOnce(ctx, text, p)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(maxAttempts),
	)
	if err != nil {
		if errors.Is(err, ErrInvalidResponse) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if c.cache != nil {
		c.cache.Add(key, clip)
	}
	return clip, nil
}

// synthesizeOnce performs one audio_query + synthesis round trip.
// Non-transient failures are wrapped in backoff.Permanent so the retry loop
// stops immediately.
func (c *Client) synthesizeOnce(ctx context.Context, text string, p Params) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	speaker := strconv.Itoa(p.Speaker)

	queryBody, err := c.post(attemptCtx, "/audio_query", url.Values{
		"text":    {text},
		"speaker": {speaker},
	}, nil)
	if err != nil {
		return nil, err
	}

	// The query is patched as a generic document so engine fields this
	// client does not know about survive the round trip.
	var query map[string]any
	if err := json.Unmarshal(queryBody, &query); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: decode audio query: %v", ErrInvalidResponse, err))
	}
	query["speedScale"] = p.Speed
	query["pitchScale"] = p.Pitch

	patched, err := json.Marshal(query)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: encode audio query: %v", ErrInvalidResponse, err))
	}

	clip, err := c.post(attemptCtx, "/synthesis", url.Values{"speaker": {speaker}}, patched)
	if err != nil {
		return nil, err
	}
	if len(clip) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("%w: empty audio payload", ErrInvalidResponse))
	}
	return clip, nil
}

// Speakers fetches the engine's speaker/style catalogue.
func (c *Client) Speakers(ctx context.Context) ([]Speaker, error) {
	body, err := c.get(ctx, "/speakers")
	if err != nil {
		return nil, err
	}
	var speakers []Speaker
	if err := json.Unmarshal(body, &speakers); err != nil {
		return nil, fmt.Errorf("%w: decode speakers: %v", ErrInvalidResponse, err)
	}
	return speakers, nil
}

// Version reports the engine version string. Used as a readiness probe.
func (c *Client) Version(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/version")
	if err != nil {
		return "", err
	}
	var v string
	if err := json.Unmarshal(body, &v); err != nil {
		// Some engines return the version as plain text.
		return string(bytes.TrimSpace(body)), nil
	}
	return v, nil
}

// AddUserDictWord registers a word in the engine-side user dictionary and
// returns the UUID the engine assigned to it.
func (c *Client) AddUserDictWord(ctx context.Context, surface, pronunciation string, accentType int) (string, error) {
	body, err := c.post(ctx, "/user_dict_word", url.Values{
		"surface":       {surface},
		"pronunciation": {pronunciation},
		"accent_type":   {strconv.Itoa(accentType)},
	}, nil)
	if err != nil {
		return "", err
	}
	id := string(bytes.Trim(bytes.TrimSpace(body), `"`))
	if id == "" {
		return "", fmt.Errorf("%w: empty user dict word id", ErrInvalidResponse)
	}
	return id, nil
}

// UserDict fetches the engine-side user dictionary keyed by entry UUID.
func (c *Client) UserDict(ctx context.Context) (map[string]UserDictWord, error) {
	body, err := c.get(ctx, "/user_dict")
	if err != nil {
		return nil, err
	}
	var words map[string]UserDictWord
	if err := json.Unmarshal(body, &words); err != nil {
		return nil, fmt.Errorf("%w: decode user dict: %v", ErrInvalidResponse, err)
	}
	return words, nil
}

// DeleteUserDictWord removes the entry with the given UUID from the
// engine-side user dictionary.
func (c *Client) DeleteUserDictWord(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/user_dict_word/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("voicevox: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: delete user dict word: status %d", ErrInvalidResponse, resp.StatusCode)
	}
	return nil
}

// post issues a POST request with query parameters and an optional JSON body.
// 5xx answers and transport failures are returned as retryable errors; 4xx
// answers are permanent.
func (c *Client) post(ctx context.Context, path string, params url.Values, jsonBody []byte) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var body io.Reader
	if jsonBody != nil {
		body = bytes.NewReader(jsonBody)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("voicevox: build request: %w", err))
	}
	if jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

// get issues a GET request against path.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("voicevox: build request: %w", err)
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voicevox: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("voicevox: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, backoff.Permanent(fmt.Errorf("%w: %s %s: status %d", ErrInvalidResponse, req.Method, req.URL.Path, resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voicevox: read response: %w", err)
	}
	return body, nil
}
