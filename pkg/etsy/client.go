// Package etsy is a small client for the remote catalog API: listing reads and
// writes plus the full-replace inventory endpoint.
package etsy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopsheet/shopsheet/pkg/whttp"
	"github.com/tidwall/gjson"
)

const DefaultBaseURL = "https://openapi.etsy.com"

// Catalog is everything the preview and apply engines need from the remote side.
type Catalog interface {
	GetListing(ctx context.Context, listingID int64) (*Listing, error)
	GetInventory(ctx context.Context, listingID int64) (*Inventory, error)
	ListListings(ctx context.Context, opts ListOptions) (*ListingsPage, error)
	CreateListing(ctx context.Context, req CreateListingRequest) (*Listing, error)
	UpdateListing(ctx context.Context, listingID int64, patch ListingPatch) (*Listing, error)
	DeleteListing(ctx context.Context, listingID int64) error
	UpdateInventory(ctx context.Context, listingID int64, inv InventoryUpdate) (*Inventory, error)
}

type ListOptions struct {
	State  string
	Limit  int
	Offset int
}

// APIError is a non-2xx answer from the remote catalog.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Retryable reports whether the status was one the request helper already retried.
func (e *APIError) Retryable() bool { return whttp.IsRetryableStatus(e.StatusCode) }

// IsNotFound reports whether err is a 404 from the remote catalog.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL string
	shopID  int64
	apiKey  string
	token   string
	http    *whttp.Client
}

type Options struct {
	BaseURL string
	ShopID  int64
	APIKey  string
	// Token is an OAuth access token obtained elsewhere.
	Token string
	HTTP  whttp.Config
}

func NewClient(opts Options) (*Client, error) {
	if opts.ShopID == 0 {
		return nil, errors.New("etsy: shop id is required")
	}
	if opts.APIKey == "" {
		return nil, errors.New("etsy: api key is required")
	}
	hc, err := whttp.NewClient(opts.HTTP)
	if err != nil {
		return nil, err
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{baseURL: base, shopID: opts.ShopID, apiKey: opts.APIKey, token: opts.Token, http: hc}, nil
}

func (c *Client) ShopID() int64 { return c.shopID }

func (c *Client) GetListing(ctx context.Context, listingID int64) (*Listing, error) {
	var l Listing
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v3/application/listings/%d", listingID), nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) GetInventory(ctx context.Context, listingID int64) (*Inventory, error) {
	var inv Inventory
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v3/application/listings/%d/inventory", listingID), nil, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *Client) ListListings(ctx context.Context, opts ListOptions) (*ListingsPage, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := fmt.Sprintf("/v3/application/shops/%d/listings", c.shopID)
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	res, err := c.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var page ListingsPage
	if err := json.Unmarshal([]byte(res.BodyString), &page); err != nil {
		return nil, fmt.Errorf("decoding listings page: %w", err)
	}
	// Some responses omit count; fall back to the result length.
	if !gjson.Get(res.BodyString, "count").Exists() {
		page.Count = len(page.Results)
	}
	return &page, nil
}

func (c *Client) CreateListing(ctx context.Context, req CreateListingRequest) (*Listing, error) {
	var l Listing
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v3/application/shops/%d/listings", c.shopID), req, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) UpdateListing(ctx context.Context, listingID int64, patch ListingPatch) (*Listing, error) {
	var l Listing
	path := fmt.Sprintf("/v3/application/shops/%d/listings/%d", c.shopID, listingID)
	if err := c.do(ctx, http.MethodPatch, path, patch, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) DeleteListing(ctx context.Context, listingID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v3/application/listings/%d", listingID), nil, nil)
}

func (c *Client) UpdateInventory(ctx context.Context, listingID int64, inv InventoryUpdate) (*Inventory, error) {
	var out Inventory
	path := fmt.Sprintf("/v3/application/listings/%d/inventory", listingID)
	if err := c.do(ctx, http.MethodPut, path, inv, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s %s body: %w", method, path, err)
		}
		body = b
	}
	res, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil || strings.TrimSpace(res.BodyString) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(res.BodyString), out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte) (*whttp.WHTTPRes, error) {
	headers := []whttp.WHTTPHeader{{Name: "x-api-key", Value: c.apiKey}}
	if c.token != "" {
		headers = append(headers, whttp.WHTTPHeader{Name: "Authorization", Value: "Bearer " + c.token})
	}

	res, err := c.http.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		URL:     c.baseURL + path,
		Method:  method,
		Headers: headers,
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: res.StatusCode,
			Method:     method,
			Path:       path,
			Message:    errorMessage(res.BodyString),
		}
	}
	return res, nil
}

// errorMessage pulls a human readable message out of an error body, whatever
// shape the API chose for it this time.
func errorMessage(body string) string {
	for _, p := range []string{"error", "error_description", "message", "errors.0.message"} {
		if v := gjson.Get(body, p); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	body = strings.TrimSpace(body)
	if len(body) > 200 {
		body = body[:200]
	}
	return body
}
