package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"telemetry-observer/src/helpers"
	"telemetry-observer/src/logger"
	"telemetry-observer/src/models"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	defaultRequestTimeout = 10 * time.Second
	defaultMaxRetries     = 3
	retryBaseDelay        = 500 * time.Millisecond
)

// -----------------------------------------------------------------------------
// Client is the REST side of a remote telemetry backend: command dispatch,
// persistent command status and the server time endpoint.
// -----------------------------------------------------------------------------

type Client struct {
	logger  *logger.Logger
	baseURL string
	http    *http.Client
	retries int
}

// -----------------------------------------------------------------------------

func NewClient(log *logger.Logger, baseURL string, cfg models.MTransportConfig) *Client {
	timeout := defaultRequestTimeout
	if cfg.RequestTimeout > 0 {
		timeout = time.Duration(cfg.RequestTimeout) * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &Client{
		logger:  log.Named("api"),
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		retries: retries,
	}
}

// -----------------------------------------------------------------------------
// RPC endpoints
// -----------------------------------------------------------------------------

// SendRpc posts one command. Non-2xx responses map onto RpcError with the
// response body as detail.
func (c *Client) SendRpc(ctx context.Context, oneWay bool, entityID string, req *models.MRpcRequest) (interface{}, error) {
	kind := "twoway"
	if oneWay {
		kind = "oneway"
	}
	url := fmt.Sprintf("%s/api/rpc/%s/%s", c.baseURL, kind, entityID)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, helpers.NewTransportError("rpc request marshal failed", err)
	}

	var response interface{}
	raw, status, statusText, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &helpers.RpcError{
			Status:     status,
			StatusText: statusText,
			Detail:     errorDetail(raw),
		}
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &response); err != nil {
			return nil, helpers.NewTransportError("rpc response decode failed", err)
		}
	}
	return response, nil
}

func (c *Client) GetPersistedRpc(ctx context.Context, rpcID string) (*models.MPersistedRpc, error) {
	url := fmt.Sprintf("%s/api/rpc/persistent/%s", c.baseURL, rpcID)
	raw, status, statusText, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &helpers.RpcError{Status: status, StatusText: statusText, Detail: errorDetail(raw)}
	}
	var p models.MPersistedRpc
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, helpers.NewTransportError("persistent rpc decode failed", err)
	}
	return &p, nil
}

// -----------------------------------------------------------------------------
// Server time
// -----------------------------------------------------------------------------

// GetServerTime fetches the backend clock in epoch milliseconds.
func (c *Client) GetServerTime(ctx context.Context) (int64, error) {
	raw, status, statusText, err := c.do(ctx, http.MethodGet, c.baseURL+"/api/time", nil)
	if err != nil {
		return 0, err
	}
	if status < 200 || status >= 300 {
		return 0, helpers.NewTransportError("time endpoint returned "+statusText, nil)
	}
	var ts int64
	if err := json.Unmarshal(raw, &ts); err != nil {
		return 0, helpers.NewTransportError("time response decode failed", err)
	}
	return ts, nil
}

// -----------------------------------------------------------------------------
// Plumbing
// -----------------------------------------------------------------------------

// do issues one request with retries on transport-level failures only;
// HTTP-level errors are surfaced to the caller unretried.
func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, int, string, error) {
	type result struct {
		raw        []byte
		status     int
		statusText string
	}

	res, err := helpers.RetryWithBackoff(c.logger, method+" "+url, c.retries, retryBaseDelay, func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return &result{raw: raw, status: resp.StatusCode, statusText: http.StatusText(resp.StatusCode)}, nil
	})
	if err != nil {
		return nil, 0, "", helpers.NewTransportError("request failed: "+url, err)
	}
	r := res.(*result)
	return r.raw, r.status, r.statusText, nil
}

// errorDetail extracts a human readable message from a failure payload.
func errorDetail(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return string(raw)
}

// -----------------------------------------------------------------------------
// HttpClockSkewProvider estimates clock skew against the time endpoint,
// halving the measured round trip.
// -----------------------------------------------------------------------------

type HttpClockSkewProvider struct {
	client *Client
}

func NewHttpClockSkewProvider(client *Client) *HttpClockSkewProvider {
	return &HttpClockSkewProvider{client: client}
}

func (p *HttpClockSkewProvider) GetServerTimeDiff(ctx context.Context) (int64, error) {
	before := time.Now().UnixMilli()
	serverTs, err := p.client.GetServerTime(ctx)
	if err != nil {
		return 0, err
	}
	after := time.Now().UnixMilli()
	rtt := after - before
	return serverTs + rtt/2 - after, nil
}
