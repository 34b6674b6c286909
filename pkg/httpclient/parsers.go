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

package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseAnthropicHeaders reads the rate-limit headers the Anthropic API
// attaches to throttled responses.
func ParseAnthropicHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{RetryAfter: retryAfterHint(headers)}

	// Reset stamps are RFC3339; the first parseable header wins.
	for _, name := range []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	} {
		value := headers.Get(name)
		if value == "" {
			continue
		}
		if reset, err := time.Parse(time.RFC3339, value); err == nil {
			info.ResetTime = reset.Unix()
			break
		}
	}

	info.RequestsRemaining = intHeader(headers, "anthropic-ratelimit-requests-remaining")
	info.InputTokensRemaining = intHeader(headers, "anthropic-ratelimit-input-tokens-remaining")
	info.OutputTokensRemaining = intHeader(headers, "anthropic-ratelimit-output-tokens-remaining")

	return info
}

// ParseRetryAfterHeader reads only the standard Retry-After hint. Suitable
// for upstreams without vendor rate-limit headers.
func ParseRetryAfterHeader(headers http.Header) RateLimitInfo {
	return RateLimitInfo{RetryAfter: retryAfterHint(headers)}
}

func retryAfterHint(headers http.Header) time.Duration {
	seconds, err := strconv.Atoi(headers.Get("Retry-After"))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func intHeader(headers http.Header, name string) int {
	n, err := strconv.Atoi(headers.Get(name))
	if err != nil {
		return 0
	}
	return n
}
