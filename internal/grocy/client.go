// Package grocy provides a client for the Grocy stock management API.
package grocy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pantrybot/pantrybot/internal/httpkit"
)

// Client is a Grocy REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Grocy client. baseURL should include the /api
// path segment (e.g. http://grocy.local:9283/api). Self-hosted Grocy
// instances commonly run with self-signed certificates; insecureTLS
// disables certificate verification for those.
func NewClient(baseURL string, apiKey string, insecureTLS bool, logger *slog.Logger) *Client {
	opts := []httpkit.ClientOption{
		httpkit.WithTimeout(10 * time.Second),
		httpkit.WithRetry(3, 2*time.Second),
		httpkit.WithLogger(logger),
	}
	if insecureTLS {
		opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpkit.NewClient(opts...),
	}
}

// Amount is a float64 that tolerates Grocy's habit of returning numeric
// fields as JSON strings.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*a = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", s, err)
	}
	*a = Amount(f)
	return nil
}

// FlexInt is an int that tolerates JSON string encoding.
type FlexInt int

func (n *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("parse int %q: %w", s, err)
	}
	*n = FlexInt(v)
	return nil
}

// Product represents a product from the Grocy product registry.
type Product struct {
	ID             FlexInt `json:"id"`
	Name           string  `json:"name"`
	MinStockAmount Amount  `json:"min_stock_amount"`
}

// StockItem represents one entry from the current stock overview.
type StockItem struct {
	Amount       Amount  `json:"amount_aggregated"`
	AmountOpened Amount  `json:"amount_opened_aggregated"`
	BestBefore   string  `json:"best_before_date"`
	Product      Product `json:"product"`
}

// ShoppingListItem represents one entry on the shopping list.
type ShoppingListItem struct {
	ProductID FlexInt `json:"product_id"`
	Amount    Amount  `json:"amount"`
	Note      string  `json:"note"`
}

// NotFoundError indicates no product matched the given name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product %q not found", e.Name)
}

// AmbiguousError indicates more than one product matched the given name.
type AmbiguousError struct {
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("Multiple products found: %s. Please be more specific.", strings.Join(e.Matches, ", "))
}

// Ping checks if the Grocy API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.get(ctx, "/system/info", nil)
}

// Stock retrieves the current stock overview.
func (c *Client) Stock(ctx context.Context) ([]StockItem, error) {
	var items []StockItem
	if err := c.get(ctx, "/stock", &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Products retrieves all products from the product registry.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.get(ctx, "/objects/products", &products); err != nil {
		return nil, err
	}
	return products, nil
}

// FindProduct resolves a product by case-insensitive substring match on
// the name. Returns NotFoundError when nothing matches and
// AmbiguousError when the name matches more than one product.
func (c *Client) FindProduct(ctx context.Context, name string) (*Product, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Product
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), strings.ToLower(name)) {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 0:
		return nil, &NotFoundError{Name: name}
	case 1:
		return &matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return nil, &AmbiguousError{Matches: names}
	}
}

// Consume removes stock for a product.
func (c *Client) Consume(ctx context.Context, productID int, amount float64, spoiled bool) error {
	path := fmt.Sprintf("/stock/products/%d/consume", productID)
	return c.post(ctx, path, map[string]any{
		"amount":           amount,
		"spoiled":          spoiled,
		"transaction_type": "consume",
	}, nil)
}

// AddStock records a stock purchase for a product. bestBeforeDate
// (YYYY-MM-DD) and price are optional.
func (c *Client) AddStock(ctx context.Context, productID int, amount float64, bestBeforeDate string, price *float64) error {
	body := map[string]any{
		"amount":           amount,
		"transaction_type": "purchase",
	}
	if bestBeforeDate != "" {
		body["best_before_date"] = bestBeforeDate
	}
	if price != nil {
		body["price"] = *price
	}
	path := fmt.Sprintf("/stock/products/%d/add", productID)
	return c.post(ctx, path, body, nil)
}

// AddToShoppingList puts a product on the shopping list.
func (c *Client) AddToShoppingList(ctx context.Context, productID int, amount float64) error {
	path := fmt.Sprintf("/stock/products/%d/add-to-shopping-list", productID)
	return c.post(ctx, path, map[string]any{
		"product_id": productID,
		"amount":     amount,
	}, nil)
}

// ShoppingList retrieves the current shopping list.
func (c *Client) ShoppingList(ctx context.Context) ([]ShoppingListItem, error) {
	var items []ShoppingListItem
	if err := c.get(ctx, "/objects/shopping_list", &items); err != nil {
		return nil, err
	}
	return items, nil
}

type namedObject struct {
	ID   FlexInt `json:"id"`
	Name string  `json:"name"`
}

type createdObject struct {
	CreatedObjectID FlexInt `json:"created_object_id"`
}

// CreateProduct registers a new product, placing it in the Pantry
// location with a default quantity unit, and books an initial zero
// stock entry so it appears in the stock overview immediately.
func (c *Client) CreateProduct(ctx context.Context, name string) (int, error) {
	locationID, err := c.findOrCreateLocation(ctx, "Pantry")
	if err != nil {
		return 0, fmt.Errorf("resolve location: %w", err)
	}

	unitID := 1
	var units []namedObject
	if err := c.get(ctx, "/objects/quantity_units", &units); err == nil {
		for _, u := range units {
			if strings.EqualFold(u.Name, "piece") {
				unitID = int(u.ID)
				break
			}
		}
	}

	var created createdObject
	err = c.post(ctx, "/objects/products", map[string]any{
		"name":             name,
		"location_id":      locationID,
		"qu_id_purchase":   unitID,
		"qu_id_stock":      unitID,
		"min_stock_amount": 0,
		"description":      "Auto-created by PantryBot",
	}, &created)
	if err != nil {
		return 0, fmt.Errorf("create product: %w", err)
	}

	productID := int(created.CreatedObjectID)

	// Zero-quantity stock entry so the product shows in Stock Overview.
	path := fmt.Sprintf("/stock/products/%d/add", productID)
	initErr := c.post(ctx, path, map[string]any{
		"amount":           0,
		"best_before_date": time.Now().AddDate(1, 0, 0).Format("2006-01-02"),
		"price":            0,
	}, nil)
	if initErr != nil {
		// Product exists either way; the stock entry is cosmetic.
		slog.Default().Warn("initial stock entry failed", "product", name, "error", initErr)
	}

	return productID, nil
}

func (c *Client) findOrCreateLocation(ctx context.Context, name string) (int, error) {
	var locations []namedObject
	if err := c.get(ctx, "/objects/locations", &locations); err != nil {
		return 0, err
	}
	for _, loc := range locations {
		if strings.EqualFold(loc.Name, name) {
			return int(loc.ID), nil
		}
	}

	var created createdObject
	err := c.post(ctx, "/objects/locations", map[string]any{
		"name":        name,
		"description": "Auto-created by PantryBot",
	}, &created)
	if err != nil {
		return 0, err
	}
	return int(created.CreatedObjectID), nil
}

// get performs a GET request to the Grocy API.
func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("GROCY-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// post performs a POST request to the Grocy API.
func (c *Client) post(ctx context.Context, path string, data any, result any) error {
	var reqBody []byte
	if data != nil {
		var err error
		reqBody, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("GROCY-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
