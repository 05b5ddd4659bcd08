package geocode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrNoAddress = errors.New("no address found for location")

// Client does reverse lookups against a Nominatim-compatible service.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

type Address struct {
	City     string `json:"city"`
	Town     string `json:"town"`
	Village  string `json:"village"`
	District string `json:"state_district"`
	State    string `json:"state"`
	Postcode string `json:"postcode"`
	Country  string `json:"country_code"`
}

type Place struct {
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
	Error       string  `json:"error"`
}

// Locality picks the most specific settlement name available.
func (p Place) Locality() string {
	for _, v := range []string{p.Address.City, p.Address.Town, p.Address.Village, p.Address.District} {
		if v != "" {
			return v
		}
	}
	return ""
}

func NewClient(baseURL, userAgent string, timeout time.Duration, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")

	return &Client{http: http, logger: logger}
}

func (c *Client) Reverse(ctx context.Context, lat, lng float64) (*Place, error) {
	var place Place

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format": "jsonv2",
			"lat":    strconv.FormatFloat(lat, 'f', 6, 64),
			"lon":    strconv.FormatFloat(lng, 'f', 6, 64),
		}).
		SetResult(&place).
		Get("/reverse")
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if resp.IsError() {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode())
	}

	if place.Error != "" {
		c.logger.Debug("Reverse geocoding returned no result",
			zap.Float64("lat", lat),
			zap.Float64("lng", lng),
			zap.String("reason", place.Error))
		return nil, ErrNoAddress
	}

	return &place, nil
}
