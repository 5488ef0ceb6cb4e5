package homework

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
	"strings"
	"time"
)

const maxBodyBytes = 4 << 20

// Response is the decoded body, unmodified. JSON numbers stay json.Number.
type Response = any

// Client performs one GET against the status endpoint per Fetch call.
// It never retries; the poll loop owns the cadence.
type Client struct {
	endpoint string
	token    string
	hc       *http.Client
}

type ClientOption func(*Client)

// WithTimeout sets the default client's timeout. Zero keeps 30s.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.hc.Timeout = d
		}
	}
}

func NewClient(endpoint, token string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: strings.TrimSpace(endpoint),
		token:    token,
		hc:       &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Endpoint() string { return c.endpoint }

// Fetch requests statuses changed since cursor (epoch seconds).
func (c *Client) Fetch(ctx context.Context, cursor int64) (Response, error) {
	params := url.Values{}
	params.Set("from_date", strconv.FormatInt(cursor, 10))

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, &Error{Kind: KindConnectivity, Msg: "invalid endpoint " + c.endpoint, URL: c.endpoint, Params: params, Err: err}
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Kind: KindConnectivity, Msg: "build request", URL: c.endpoint, Params: params, Err: err}
	}
	req.Header.Set("Authorization", "OAuth "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &Error{
			Kind:   KindConnectivity,
			Msg:    fmt.Sprintf("endpoint %s unreachable (from_date=%d)", c.endpoint, cursor),
			URL:    c.endpoint,
			Params: params,
			Err:    unwrapURLError(err),
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:       KindRemoteRejection,
			Msg:        fmt.Sprintf("endpoint %s returned status %d (from_date=%d)", c.endpoint, resp.StatusCode, cursor),
			URL:        c.endpoint,
			Params:     params,
			StatusCode: resp.StatusCode,
		}
	}
	if readErr != nil {
		return nil, &Error{Kind: KindConnectivity, Msg: "read response body", URL: c.endpoint, Params: params, Err: readErr}
	}

	data, err := decodeBody(body)
	if err != nil {
		return nil, &Error{Kind: KindMalformedResponse, Msg: "response is not valid JSON", URL: c.endpoint, Params: params, Err: err}
	}

	if m, ok := data.(map[string]any); ok {
		for _, field := range []string{"code", "error"} {
			if v, present := m[field]; present {
				return nil, &Error{
					Kind:  KindApplication,
					Msg:   fmt.Sprintf("endpoint rejected request: %s=%v", field, v),
					URL:   c.endpoint,
					Field: field,
					Value: v,
				}
			}
		}
	}
	return data, nil
}

func decodeBody(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// unwrapURLError drops the *url.Error wrapper, whose message repeats the
// full URL including the query.
func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}
