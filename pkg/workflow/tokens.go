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

package workflow

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	// Cache encodings to avoid repeated initialization.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// tokenCounter measures prompt text so the extraction corpus stays inside
// the model's context budget. A nil counter is usable: it falls back to the
// rough four-characters-per-token estimate.
type tokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// newTokenCounter builds a counter for the model, approximating unknown
// models with cl100k_base. Encoding data may need to be fetched on first
// use; on failure callers should proceed with a nil counter.
func newTokenCounter(model string) (*tokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &tokenCounter{encoding: cached}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &tokenCounter{encoding: encoding}, nil
}

// Count returns the token count for text.
func (tc *tokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return estimateTokens(text)
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// estimateTokens is the rough fallback: four characters per token.
func estimateTokens(text string) int {
	return len(text) / 4
}
