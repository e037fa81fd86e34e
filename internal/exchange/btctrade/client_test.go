package btctrade

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"tradesync/internal/config"
	"tradesync/internal/core"
)

func newTestClient(baseURL string) *Client {
	return NewClient(config.ExchangeConfig{
		BaseURL:      baseURL,
		RateLimitRPS: 1000,
	})
}

var testCreds = core.Credentials{PublicKey: "pub-key", PrivateKey: "priv-key"}

func TestSignedRequestShape(t *testing.T) {
	var gotBody string
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotHeaders = r.Header.Clone()
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	params := []Param{{Key: "count", Value: "0.10000000"}, {Key: "price", Value: "1500000.00"}}
	if _, err := c.Request(context.Background(), http.MethodPost, "buy/btc_uah", params, &testCreds); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if gotHeaders.Get("public-key") != "pub-key" {
		t.Fatalf("public-key header = %q, want pub-key", gotHeaders.Get("public-key"))
	}
	digest := sha256.Sum256([]byte(gotBody + "priv-key"))
	if want := hex.EncodeToString(digest[:]); gotHeaders.Get("api-sign") != want {
		t.Fatalf("api-sign = %q, want digest over body+key %q", gotHeaders.Get("api-sign"), want)
	}

	parts := strings.Split(gotBody, "&")
	if len(parts) != 4 {
		t.Fatalf("body %q has %d fields, want 4", gotBody, len(parts))
	}
	if parts[0] != "count=0.10000000" || parts[1] != "price=1500000.00" {
		t.Fatalf("body %q: ordered params not preserved", gotBody)
	}
	if !strings.HasPrefix(parts[2], "out_order_id=") {
		t.Fatalf("body %q: missing out_order_id before nonce", gotBody)
	}
	if !strings.HasPrefix(parts[3], "nonce=") {
		t.Fatalf("body %q: missing trailing nonce", gotBody)
	}
}

func TestNonceStrictlyIncreasing(t *testing.T) {
	var mu sync.Mutex
	var nonces []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fields := strings.Split(string(body), "&")
		raw := strings.TrimPrefix(fields[len(fields)-1], "nonce=")
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			t.Errorf("unparseable nonce %q", raw)
		}
		mu.Lock()
		nonces = append(nonces, n)
		mu.Unlock()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	const workers = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := c.Request(context.Background(), http.MethodPost, "balance", nil, &testCreds); err != nil {
				t.Errorf("Request() error = %v", err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool, workers)
	for _, n := range nonces {
		if seen[n] {
			t.Fatalf("nonce %d issued twice", n)
		}
		seen[n] = true
	}
	if len(seen) != workers {
		t.Fatalf("got %d distinct nonces, want %d", len(seen), workers)
	}
}

func TestPublicRequestUsesQuery(t *testing.T) {
	var gotQuery string
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotMethod = r.Method
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	if _, err := c.Request(context.Background(), http.MethodGet, "deals/btc_uah", []Param{{Key: "k", Value: "v"}}, nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if gotMethod != http.MethodGet {
		t.Fatalf("method = %s, want GET", gotMethod)
	}
	if gotQuery != "k=v" {
		t.Fatalf("query = %q, want k=v", gotQuery)
	}
}

func TestNormalizeBodyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"price": "1"}]`))
	}))
	defer srv.Close()

	parsed, err := newTestClient(srv.URL).Request(context.Background(), http.MethodGet, "deals/btc_uah", nil, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	arr, ok := parsed[""].([]any)
	if !ok || len(arr) != 1 {
		t.Fatalf(`parsed[""] = %v, want wrapped 1-element array`, parsed[""])
	}
}

func TestNormalizeBodyNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("maintenance in progress"))
	}))
	defer srv.Close()

	parsed, err := newTestClient(srv.URL).Request(context.Background(), http.MethodGet, "deals/btc_uah", nil, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if raw, _ := parsed[""].(string); raw != "maintenance in progress" {
		t.Fatalf(`parsed[""] = %v, want raw body string`, parsed[""])
	}
}

func TestInBandRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": false, "error": "invalid nonce value"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Request(context.Background(), http.MethodPost, "balance", nil, &testCreds)
	if !errors.Is(err, core.ErrAuthRejected) {
		t.Fatalf("Request() error = %v, want ErrAuthRejected", err)
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Msg != "invalid nonce value" {
		t.Fatalf("Request() error = %v, want APIError with server message", err)
	}
}

func TestHTTPForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "api key disabled"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Request(context.Background(), http.MethodPost, "balance", nil, &testCreds)
	if !errors.Is(err, core.ErrAuthRejected) {
		t.Fatalf("Request() error = %v, want ErrAuthRejected", err)
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.HTTPStatus != http.StatusForbidden {
		t.Fatalf("Request() error = %v, want APIError with status 403", err)
	}
}

func TestTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, http.MethodGet, "deals/btc_uah", nil, nil)
	if !errors.Is(err, core.ErrTimeout) {
		t.Fatalf("Request() error = %v, want ErrTimeout", err)
	}
}

func TestConnectionRefusedIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).Request(context.Background(), http.MethodGet, "deals/btc_uah", nil, nil)
	if !errors.Is(err, core.ErrNetwork) {
		t.Fatalf("Request() error = %v, want ErrNetwork", err)
	}
}
