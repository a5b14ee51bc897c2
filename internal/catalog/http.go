package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPClient talks to the platform admin API over HTTP with a shared
// access token. It implements Client.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates an HTTPClient targeting the given admin API base URL.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("catalog %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding catalog response: %w", err)
		}
	}
	return nil
}

func (c *HTTPClient) GetProduct(ctx context.Context, shop, productID string) (*Product, error) {
	var p Product
	path := fmt.Sprintf("/shops/%s/products/%s", url.PathEscape(shop), url.PathEscape(productID))
	if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *HTTPClient) SearchProducts(ctx context.Context, shop, query string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = 10
	}
	var result struct {
		Products []Product `json:"products"`
	}
	path := fmt.Sprintf("/shops/%s/products?query=%s&limit=%s",
		url.PathEscape(shop), url.QueryEscape(query), strconv.Itoa(limit))
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Products, nil
}

func (c *HTTPClient) GetPolicies(ctx context.Context, shop string) ([]Policy, error) {
	var result struct {
		Policies []Policy `json:"policies"`
	}
	path := fmt.Sprintf("/shops/%s/policies", url.PathEscape(shop))
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Policies, nil
}

func (c *HTTPClient) UpdateProductMetadata(ctx context.Context, shop, productID string, m Metadata) error {
	path := fmt.Sprintf("/shops/%s/products/%s/metadata", url.PathEscape(shop), url.PathEscape(productID))
	return c.do(ctx, http.MethodPut, path, m, nil)
}

func (c *HTTPClient) UpdateImageAltText(ctx context.Context, shop, imageID, altText string) error {
	path := fmt.Sprintf("/shops/%s/images/%s/alt-text", url.PathEscape(shop), url.PathEscape(imageID))
	return c.do(ctx, http.MethodPut, path, map[string]string{"altText": altText}, nil)
}
