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

// Package provider abstracts where configuration bytes come from. The file
// provider is the only implementation today; the seam exists so a remote
// source can be added without touching the loader.
package provider

import "context"

// Type identifies the config source kind, for logging.
type Type string

const TypeFile Type = "file"

// Provider is a source of raw configuration bytes. Implementations must be
// safe for concurrent use.
type Provider interface {
	// Type reports the source kind.
	Type() Type

	// Load reads the current configuration bytes.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel whenever the source changes,
	// until ctx is done. A nil channel means the source cannot be watched.
	Watch(ctx context.Context) (<-chan struct{}, error)

	// Close releases resources. The provider is unusable afterwards.
	Close() error
}
