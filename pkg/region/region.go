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

// Package region maps an originating country to the knowledge servers and
// search plan relevant to that jurisdiction. The mapping is a closed,
// declarative table; everything here is pure data and pure functions.
package region

import (
	"sort"
	"strings"
)

// International is the profile used for any country without its own entry.
const International = "INTERNATIONAL"

// Well-known server names. Each name identifies one knowledge server in the
// fleet configuration; a profile is an ordered subset of these.
const (
	ServerNICE        = "nice"
	ServerBNF         = "bnf"
	ServerCKS         = "cks"
	ServerFOGSI       = "fogsi"
	ServerICMR        = "icmr"
	ServerSTG         = "stg"
	ServerRSSDI       = "rssdi"
	ServerCSI         = "csi"
	ServerNCG         = "ncg"
	ServerIAP         = "iap"
	ServerUSPSTF      = "uspstf"
	ServerCDC         = "cdc"
	ServerIDSA        = "idsa"
	ServerADA         = "ada"
	ServerAHAACC      = "aha_acc"
	ServerAAP         = "aap"
	ServerNHMRC       = "nhmrc"
	ServerPubMed      = "pubmed"
	ServerPatientInfo = "patient_info"
)

// profiles maps ISO-3166 alpha-2 country codes to the ordered server list
// for that jurisdiction. Codes absent from the table use the INTERNATIONAL
// profile.
var profiles = map[string][]string{
	"GB": {ServerNICE, ServerBNF, ServerCKS, ServerPatientInfo},
	"IN": {ServerFOGSI, ServerICMR, ServerSTG, ServerRSSDI, ServerCSI, ServerNCG, ServerIAP, ServerPatientInfo},
	"US": {ServerUSPSTF, ServerCDC, ServerIDSA, ServerADA, ServerAHAACC, ServerAAP, ServerPatientInfo},
	"AU": {ServerNHMRC, ServerPatientInfo},
}

var internationalProfile = []string{ServerPubMed, ServerPatientInfo}

// Normalize canonicalizes a country code: trimmed, uppercased.
func Normalize(countryCode string) string {
	return strings.ToUpper(strings.TrimSpace(countryCode))
}

// Select returns the ordered server names to load for a country code. Codes
// are normalized first; unknown or empty codes select the INTERNATIONAL
// profile. Select never fails.
func Select(countryCode string) []string {
	if servers, ok := profiles[Normalize(countryCode)]; ok {
		out := make([]string, len(servers))
		copy(out, servers)
		return out
	}
	out := make([]string, len(internationalProfile))
	copy(out, internationalProfile)
	return out
}

// ProfileName returns the profile label used for a country code: the
// normalized code when supported, INTERNATIONAL otherwise.
func ProfileName(countryCode string) string {
	code := Normalize(countryCode)
	if _, ok := profiles[code]; ok {
		return code
	}
	return International
}

// Supported returns the country codes with a dedicated profile, sorted.
func Supported() []string {
	codes := make([]string, 0, len(profiles))
	for code := range profiles {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
