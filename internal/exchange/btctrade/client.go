package btctrade

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tradesync/internal/config"
	"tradesync/internal/core"
)

const (
	headerPublicKey = "public-key"
	headerAPISign   = "api-sign"

	rateLimitBurst = 10
)

// Param is one ordered key=value pair of a request body. Order matters: the
// signature is computed over the exact body bytes.
type Param struct {
	Key   string
	Value string
}

// Client issues signed and public requests against the exchange and
// normalizes responses into a uniform map shape. It is the leaf dependency of
// every provider; safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	// nonceMu serializes nonce issuance. The server rejects any signature
	// whose nonce is not strictly greater than the previous one, so two
	// concurrent requests must never draw the same value.
	nonceMu sync.Mutex
	nonce   int64
}

func NewClient(cfg config.ExchangeConfig) *Client {
	timeout := 15 * time.Second
	if cfg.HTTPTimeoutSec > 0 {
		timeout = time.Duration(cfg.HTTPTimeoutSec) * time.Second
	}
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 8
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), rateLimitBurst),
		// Seeding from wall-clock ms keeps nonces monotonic across restarts.
		nonce: time.Now().UnixMilli(),
	}
}

func (c *Client) nextNonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	c.nonce++
	return c.nonce
}

// Request performs one API call. Public requests (creds == nil) are GETs with
// query parameters; authenticated requests are POSTs with a signed body.
//
// The returned map is always non-nil on success: a top-level JSON array is
// wrapped under the "" key, and a body that does not parse as JSON at all is
// returned as its raw string under the "" key. Callers must tolerate both.
func (c *Client) Request(ctx context.Context, method, endpoint string, params []Param, creds *core.Credentials) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	urlStr := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	var req *http.Request
	var err error
	if creds != nil {
		body := signedBody(params, c.nextNonce(), time.Now().UnixMilli())
		req, err = http.NewRequestWithContext(ctx, method, urlStr, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(headerPublicKey, creds.PublicKey)
		req.Header.Set(headerAPISign, sign(body, creds.PrivateKey))
	} else {
		if len(params) > 0 {
			values := url.Values{}
			for _, p := range params {
				values.Set(p.Key, p.Value)
			}
			urlStr += "?" + values.Encode()
		}
		req, err = http.NewRequestWithContext(ctx, method, urlStr, nil)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Join(core.ErrNetwork, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	parsed := normalizeBody(body)
	if err := rejectionError(parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// signedBody concatenates ordered key=value pairs plus the trailing
// out_order_id and nonce fields the server requires on every signed call.
func signedBody(params []Param, nonce, orderID int64) string {
	parts := make([]string, 0, len(params)+2)
	for _, p := range params {
		parts = append(parts, p.Key+"="+p.Value)
	}
	parts = append(parts, "out_order_id="+strconv.FormatInt(orderID, 10))
	parts = append(parts, "nonce="+strconv.FormatInt(nonce, 10))
	return strings.Join(parts, "&")
}

func sign(body, privateKey string) string {
	digest := sha256.Sum256([]byte(body + privateKey))
	return hex.EncodeToString(digest[:])
}

// normalizeBody parses response bytes into a uniform map. Error bodies are
// frequently plain text or bare arrays; both are surfaced under the "" key
// rather than failing the call.
func normalizeBody(body []byte) map[string]any {
	trimmed := bytes.TrimSpace(body)
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err == nil && obj != nil {
		return obj
	}
	var arr []any
	if err := json.Unmarshal(trimmed, &arr); err == nil && arr != nil {
		return map[string]any{"": arr}
	}
	return map[string]any{"": string(body)}
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(core.ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(core.ErrTimeout, err)
	}
	return errors.Join(core.ErrNetwork, err)
}

// rejectionError detects the exchange's in-band failure shape: HTTP 200 with
// {"status": false, "error": "..."}.
func rejectionError(parsed map[string]any) error {
	status, ok := parsed["status"].(bool)
	if !ok || status {
		return nil
	}
	msg, _ := parsed["error"].(string)
	apiErr := APIError{HTTPStatus: http.StatusOK, Msg: msg}
	if isAuthRejection(msg) {
		return errors.Join(core.ErrAuthRejected, apiErr)
	}
	return apiErr
}
