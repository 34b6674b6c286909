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

package fleet

import "errors"

// Error kinds surfaced by sessions, the registry and the router. Callers
// match with errors.Is; every returned error wraps exactly one of these.
var (
	// ErrTransport covers framing failures, EOF and process death. Fatal for
	// the session, recoverable per call.
	ErrTransport = errors.New("transport failure")

	// ErrTimeout is returned when a call exceeds its per-request deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrUnknownServer is returned for calls naming a server that is not open.
	ErrUnknownServer = errors.New("unknown server")

	// ErrUnknownTool is returned by the router for undiscovered tool names.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrUpstream is returned when a server answered with an explicit error
	// envelope or an error-tagged tool result.
	ErrUpstream = errors.New("upstream error")

	// ErrParse is returned when a server payload cannot be decoded.
	ErrParse = errors.New("malformed payload")

	// ErrCancelled is returned when the caller's context was cancelled.
	ErrCancelled = errors.New("cancelled")

	// ErrConfig is returned for invalid session or fleet configuration.
	ErrConfig = errors.New("invalid configuration")
)
