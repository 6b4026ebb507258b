package whttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopsheet/shopsheet/pkg/catalog"
	"golang.org/x/time/rate"
)

const (
	DefaultRetryMax          = 4
	DefaultRetryWaitMin      = 1 * time.Second
	DefaultRetryWaitMax      = 30 * time.Second
	DefaultRequestsPerSecond = 5
	DefaultTimeout           = 60 * time.Second

	userAgent = "shopsheet/2 (+https://github.com/shopsheet/shopsheet)"
)

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL     string
	Method  string
	Headers []WHTTPHeader
	Body    []byte
}

type WHTTPRes struct {
	StatusCode int
	Header     http.Header
	BodyString string
}

// Config controls retries and pacing of the shared client.
type Config struct {
	RetryMax          int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	Proxy             string
	Log               catalog.Logger
}

// Client sends every remote catalog call. Each attempt, retries included,
// waits for a token from the rate limiter first.
type Client struct {
	rc      *retryablehttp.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	} else if cfg.RetryMax == 0 {
		cfg.RetryMax = DefaultRetryMax
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = DefaultRetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = DefaultRetryWaitMax
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.CheckRetry = CheckRetry
	rc.Backoff = retryablehttp.DefaultBackoff
	// Hand the last response back instead of a "giving up" error so callers can
	// classify the final status themselves.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{log: catalog.OrNop(cfg.Log)}
	rc.HTTPClient.Timeout = cfg.Timeout

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %v", err)
		}
		rc.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		// A cancelled context surfaces from Do right after this hook.
		_ = limiter.Wait(req.Context())
	}

	return &Client{rc: rc, limiter: limiter}, nil
}

// CheckRetry retries network errors, 5xx, 429 and 408. Every other status is final.
func CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return IsRetryableStatus(resp.StatusCode), nil
}

func IsRetryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= 500 && code != http.StatusNotImplemented:
		return true
	}
	return false
}

func (c *Client) SendHTTPRequest(ctx context.Context, wReq *WHTTPReq) (*WHTTPRes, error) {
	var body interface{}
	if wReq.Body != nil {
		body = wReq.Body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, wReq.Method, wReq.URL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if wReq.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range wReq.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := c.rc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &WHTTPRes{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		BodyString: string(bodyBytes),
	}, nil
}

// leveledLogger routes retryablehttp's key/value logging into a catalog.Logger.
type leveledLogger struct {
	log catalog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Errorf("%s", format(msg, kv)) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warnf("%s", format(msg, kv)) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debugf("%s", format(msg, kv)) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debugf("%s", format(msg, kv)) }

func format(msg string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString("[http] ")
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
