// Package coinbase adapts the Coinbase Advanced Trade API to the gateway
// contract.
package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultHost = "https://api.coinbase.com"
	DefaultWSS  = "wss://advanced-trade-ws.coinbase.com"

	brokerage = "/api/v3/brokerage"
)

// APIError is a non-2xx REST response.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coinbase api %d: %s %s", e.Status, e.Code, e.Message)
}

// Client is the REST half of the adapter.
type Client struct {
	baseURL    string
	auth       Authenticator
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

func NewClient(baseURL string, auth Authenticator, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultHost
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		baseURL:    baseURL,
		auth:       auth,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// private endpoints allow 30 req/s; stay well under
		limiter: rate.NewLimiter(rate.Limit(15), 5),
		logger:  logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		if err := c.auth.AddAuthHeaders(req, method, path, string(body)); err != nil {
			return err
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(raw)
		}
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   path,
			"status": resp.StatusCode,
		}).Warn("Coinbase request failed")
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type money struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type account struct {
	UUID             string `json:"uuid"`
	Currency         string `json:"currency"`
	AvailableBalance money  `json:"available_balance"`
	Hold             money  `json:"hold"`
}

// ListAccounts follows the cursor until every account is read.
func (c *Client) ListAccounts(ctx context.Context) ([]account, error) {
	var out []account
	cursor := ""
	for {
		q := url.Values{"limit": {"250"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page struct {
			Accounts []account `json:"accounts"`
			HasNext  bool      `json:"has_next"`
			Cursor   string    `json:"cursor"`
		}
		if err := c.do(ctx, http.MethodGet, brokerage+"/accounts", q, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Accounts...)
		if !page.HasNext || page.Cursor == "" {
			return out, nil
		}
		cursor = page.Cursor
	}
}

type product struct {
	ProductID      string `json:"product_id"`
	Price          string `json:"price"`
	BaseIncrement  string `json:"base_increment"`
	QuoteIncrement string `json:"quote_increment"`
	PriceIncrement string `json:"price_increment"`
	BaseMinSize    string `json:"base_min_size"`
	QuoteMinSize   string `json:"quote_min_size"`
	BaseCurrency   string `json:"base_currency_id"`
	QuoteCurrency  string `json:"quote_currency_id"`
}

func (c *Client) GetProduct(ctx context.Context, productID string) (product, error) {
	var p product
	err := c.do(ctx, http.MethodGet, brokerage+"/products/"+url.PathEscape(productID), nil, nil, &p)
	return p, err
}

type limitGTC struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
	PostOnly   bool   `json:"post_only"`
}

type marketIOC struct {
	BaseSize string `json:"base_size"`
}

type limitIOC struct {
	BaseSize   string `json:"base_size"`
	LimitPrice string `json:"limit_price"`
}

type orderConfiguration struct {
	LimitGTC  *limitGTC  `json:"limit_limit_gtc,omitempty"`
	MarketIOC *marketIOC `json:"market_market_ioc,omitempty"`
	LimitIOC  *limitIOC  `json:"sor_limit_ioc,omitempty"`
}

type createOrderRequest struct {
	ClientOrderID string             `json:"client_order_id"`
	ProductID     string             `json:"product_id"`
	Side          string             `json:"side"`
	Configuration orderConfiguration `json:"order_configuration"`
}

type createOrderResponse struct {
	Success         bool `json:"success"`
	SuccessResponse struct {
		OrderID       string `json:"order_id"`
		ClientOrderID string `json:"client_order_id"`
	} `json:"success_response"`
	ErrorResponse struct {
		Error                 string `json:"error"`
		Message               string `json:"message"`
		ErrorDetails          string `json:"error_details"`
		PreviewFailureReason  string `json:"preview_failure_reason"`
		NewOrderFailureReason string `json:"new_order_failure_reason"`
	} `json:"error_response"`
}

func (c *Client) CreateOrder(ctx context.Context, req createOrderRequest) (createOrderResponse, error) {
	var resp createOrderResponse
	err := c.do(ctx, http.MethodPost, brokerage+"/orders", nil, req, &resp)
	return resp, err
}

type cancelResult struct {
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason"`
	OrderID       string `json:"order_id"`
}

func (c *Client) BatchCancel(ctx context.Context, orderIDs []string) ([]cancelResult, error) {
	var resp struct {
		Results []cancelResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, brokerage+"/orders/batch_cancel", nil, map[string][]string{"order_ids": orderIDs}, &resp)
	return resp.Results, err
}

type order struct {
	OrderID            string             `json:"order_id"`
	ClientOrderID      string             `json:"client_order_id"`
	ProductID          string             `json:"product_id"`
	Side               string             `json:"side"`
	Status             string             `json:"status"`
	OrderType          string             `json:"order_type"`
	CreatedTime        time.Time          `json:"created_time"`
	LastFillTime       *time.Time         `json:"last_fill_time"`
	FilledSize         string             `json:"filled_size"`
	AverageFilledPrice string             `json:"average_filled_price"`
	TotalFees          string             `json:"total_fees"`
	Configuration      orderConfiguration `json:"order_configuration"`
}

// ListOpenOrders returns the open orders of one product.
func (c *Client) ListOpenOrders(ctx context.Context, productID string) ([]order, error) {
	var out []order
	cursor := ""
	for {
		q := url.Values{"product_ids": {productID}, "order_status": {"OPEN"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var page struct {
			Orders  []order `json:"orders"`
			HasNext bool    `json:"has_next"`
			Cursor  string  `json:"cursor"`
		}
		if err := c.do(ctx, http.MethodGet, brokerage+"/orders/historical/batch", q, nil, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Orders...)
		if !page.HasNext || page.Cursor == "" {
			return out, nil
		}
		cursor = page.Cursor
	}
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (order, error) {
	var resp struct {
		Order order `json:"order"`
	}
	err := c.do(ctx, http.MethodGet, brokerage+"/orders/historical/"+url.PathEscape(orderID), nil, nil, &resp)
	return resp.Order, err
}

// IsNotFound reports a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
