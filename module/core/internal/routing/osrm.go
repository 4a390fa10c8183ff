// Package routing asks an OSRM-compatible service for driving durations.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nandanugg/nxt-bus/module/core/domain"
)

const (
	DefaultTimeout = 5 * time.Second
	maxBodySize    = 1 << 20
)

type OSRM struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
}

func NewOSRM(baseURL string, timeout time.Duration) *OSRM {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	var transport *http.Transport
	if t, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = t.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.MaxIdleConnsPerHost = 16
	transport.IdleConnTimeout = 90 * time.Second

	return &OSRM{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout, Transport: transport},
	}
}

type routeResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

// Duration returns driving seconds between the two points. Every failure is
// reported as domain.ErrRoutingUnavailable.
func (o *OSRM) Duration(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (float64, error) {
	if o.baseURL == "" {
		return 0, domain.ErrRoutingUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/route/v1/driving/%s,%s;%s,%s?overview=false",
		o.baseURL, coord(fromLon), coord(fromLat), coord(toLon), coord(toLat))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrRoutingUnavailable, err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrRoutingUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: status %s", domain.ErrRoutingUnavailable, resp.Status)
	}

	var body routeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: decode: %v", domain.ErrRoutingUnavailable, err)
	}
	if body.Code != "Ok" || len(body.Routes) == 0 {
		return 0, fmt.Errorf("%w: code %q", domain.ErrRoutingUnavailable, body.Code)
	}
	return body.Routes[0].Duration, nil
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
