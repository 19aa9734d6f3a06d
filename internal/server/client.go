package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client — клиент служебного API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создает новый экземпляр Client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // Общий таймаут для запросов
		},
	}
}

// Health возвращает статус сервиса из GET /health.
func (c *Client) Health(ctx context.Context) (string, error) {
	var result map[string]string
	status, err := c.get(ctx, "/health", &result)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK && status != http.StatusServiceUnavailable {
		return "", fmt.Errorf("unexpected status code: %d", status)
	}
	return result["status"], nil
}

// Members запрашивает одну страницу списка участников.
func (c *Client) Members(ctx context.Context, page, pageSize int) (*MembersResponse, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var result MembersResponse
	status, err := c.get(ctx, "/api/v1/members?"+q.Encode(), &result)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", status)
	}
	return &result, nil
}

// AllMembers обходит все страницы списка участников.
func (c *Client) AllMembers(ctx context.Context, pageSize int) ([]MemberDTO, error) {
	var all []MemberDTO
	for page := 1; ; page++ {
		resp, err := c.Members(ctx, page, pageSize)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, resp.Data...)
		if page >= resp.Pagination.TotalPages {
			return all, nil
		}
	}
}

func (c *Client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}
