// Package client talks to a running homeprice server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mcules/homeprice/internal/prediction"
)

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status=%d", e.Code)
	}
	return fmt.Sprintf("status=%d: %s", e.Code, e.Message)
}

type locationsResponse struct {
	Locations []string `json:"locations"`
}

func (c *Client) Locations(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/get_location_names", nil)
	if err != nil {
		return nil, err
	}
	var out locationsResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.Locations, nil
}

type predictRequest struct {
	Location  string  `json:"location"`
	TotalSqft float64 `json:"total_sqft"`
	Bath      int     `json:"bath"`
	BHK       int     `json:"bhk"`
}

type predictResponse struct {
	EstimatedPrice float64 `json:"estimated_price"`
}

// PredictHomePrice calls POST /predict_home_price and returns the estimated price.
func (c *Client) PredictHomePrice(ctx context.Context, in prediction.Request) (float64, error) {
	body, err := json.Marshal(predictRequest{Location: in.Location, TotalSqft: in.Sqft, Bath: in.Bath, BHK: in.BHK})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/predict_home_price", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out predictResponse
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	return out.EstimatedPrice, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))
		if json.Unmarshal(raw, &e) != nil {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &StatusError{Code: res.StatusCode, Message: e.Error}
	}
	return json.NewDecoder(res.Body).Decode(out)
}
