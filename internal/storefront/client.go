package storefront

import (
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

	"golang.org/x/time/rate"

	pkgerrors "github.com/angelmondragon/peptidecrm-backend/pkg/errors"
)

const (
	ordersPath            = "/wp-json/wc/v3/orders"
	defaultPerPage        = 50
	maxPerPage            = 100
	errorBodyReadLimit    = 1024
	headerTotalPages      = "X-WP-TotalPages"
	defaultClientTimeout  = 20 * time.Second
	defaultRequestsPerSec = 4
)

var (
	errBaseURLRequired     = errors.New("storefront base url is required")
	errCredentialsRequired = errors.New("storefront consumer key and secret are required")
)

// Client reads orders from the WooCommerce REST API. Requests are throttled
// so a backfill does not trip the store's rate limits.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	consumerKey    string
	consumerSecret string
	limiter        *rate.Limiter
}

type ClientOption func(*Client)

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimit caps outbound requests per second. Zero or negative disables
// throttling.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func NewClient(baseURL, consumerKey, consumerSecret string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	consumerKey = strings.TrimSpace(consumerKey)
	consumerSecret = strings.TrimSpace(consumerSecret)
	if consumerKey == "" || consumerSecret == "" {
		return nil, errCredentialsRequired
	}

	client := &Client{
		httpClient:     &http.Client{Timeout: defaultClientTimeout},
		baseURL:        baseURL,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		limiter:        rate.NewLimiter(rate.Limit(defaultRequestsPerSec), 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// ListOrdersParams filters the order listing.
type ListOrdersParams struct {
	Status        string
	ModifiedAfter time.Time
	Page          int
	PerPage       int
}

// OrdersPage is one page of the listing.
type OrdersPage struct {
	Orders     []Order
	Page       int
	TotalPages int
}

// HasMore reports whether another page follows.
func (p *OrdersPage) HasMore(perPage int) bool {
	if p.TotalPages > 0 {
		return p.Page < p.TotalPages
	}
	return len(p.Orders) >= perPage
}

// ListOrders fetches one page of orders ordered by modification time.
func (c *Client) ListOrders(ctx context.Context, params ListOrdersParams) (*OrdersPage, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "storefront client not configured")
	}
	page := params.Page
	if page <= 0 {
		page = 1
	}
	perPage := params.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	q.Set("orderby", "modified")
	q.Set("order", "asc")
	if s := strings.TrimSpace(params.Status); s != "" {
		q.Set("status", s)
	}
	if !params.ModifiedAfter.IsZero() {
		q.Set("modified_after", params.ModifiedAfter.UTC().Format("2006-01-02T15:04:05"))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "wait for storefront rate limit")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+ordersPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build storefront orders request")
	}
	httpReq.SetBasicAuth(c.consumerKey, c.consumerSecret)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute storefront orders request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyReadLimit))
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), "storefront orders request failed")
	}

	var orders []Order
	if err := json.NewDecoder(resp.Body).Decode(&orders); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode storefront orders response")
	}

	totalPages, _ := strconv.Atoi(resp.Header.Get(headerTotalPages))
	return &OrdersPage{Orders: orders, Page: page, TotalPages: totalPages}, nil
}
