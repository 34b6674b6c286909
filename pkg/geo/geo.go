// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package geo resolves client IP addresses to countries so requests without
// an explicit country code can still land on the right regional profile.
// Resolution is best effort: unknown is (nil, nil), never an error.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kadirpekel/consult/pkg/httpclient"
)

// Location is a resolved geolocation.
type Location struct {
	Country     string
	CountryCode string
}

// Resolver maps an IP address to a Location. Implementations return
// (nil, nil) when the address cannot be located.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (*Location, error)
}

// Config configures the HTTP resolver.
type Config struct {
	// Endpoint is the lookup base URL, ip-api.com/json compatible.
	Endpoint string

	Timeout    time.Duration
	MaxRetries int
}

const (
	defaultEndpoint = "http://ip-api.com/json"
	defaultTimeout  = 5 * time.Second
)

// HTTPResolver queries an ip-api.com style JSON endpoint.
type HTTPResolver struct {
	httpClient *httpclient.Client
	endpoint   string
}

// NewHTTPResolver creates a resolver against the configured endpoint.
func NewHTTPResolver(cfg Config) *HTTPResolver {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPResolver{
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithHeaderParser(httpclient.ParseRetryAfterHeader),
		),
		endpoint: endpoint,
	}
}

// lookupResponse is the ip-api.com JSON shape, status "success" or "fail".
type lookupResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
}

// Resolve looks up the country for an IP. Private, loopback, and unparsable
// addresses resolve to nil without a network round trip.
func (r *HTTPResolver) Resolve(ctx context.Context, ip string) (*Location, error) {
	if !routable(ip) {
		return nil, nil
	}

	lookupURL := fmt.Sprintf("%s/%s?fields=status,message,country,countryCode",
		r.endpoint, url.PathEscape(ip))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geo request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("geo lookup returned status %d: %s", resp.StatusCode, string(body))
	}

	var lookup lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lookup); err != nil {
		return nil, fmt.Errorf("failed to decode geo response: %w", err)
	}

	if lookup.Status != "success" || lookup.CountryCode == "" {
		return nil, nil
	}

	return &Location{
		Country:     lookup.Country,
		CountryCode: lookup.CountryCode,
	}, nil
}

// routable reports whether ip is a public address worth looking up.
func routable(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return !parsed.IsPrivate() &&
		!parsed.IsLoopback() &&
		!parsed.IsUnspecified() &&
		!parsed.IsLinkLocalUnicast()
}

// Static is a fixed-table resolver for tests and air-gapped deployments.
type Static map[string]Location

// Resolve returns the table entry for ip, nil when absent.
func (s Static) Resolve(ctx context.Context, ip string) (*Location, error) {
	if loc, ok := s[ip]; ok {
		return &loc, nil
	}
	return nil, nil
}

var (
	_ Resolver = (*HTTPResolver)(nil)
	_ Resolver = (Static)(nil)
)
