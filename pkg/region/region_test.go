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

package region

import (
	"reflect"
	"testing"
)

func TestSelect(t *testing.T) {
	tests := []struct {
		name        string
		countryCode string
		want        []string
	}{
		{
			name:        "GB profile",
			countryCode: "GB",
			want:        []string{"nice", "bnf", "cks", "patient_info"},
		},
		{
			name:        "lowercase normalized",
			countryCode: "gb",
			want:        []string{"nice", "bnf", "cks", "patient_info"},
		},
		{
			name:        "whitespace trimmed",
			countryCode: " GB ",
			want:        []string{"nice", "bnf", "cks", "patient_info"},
		},
		{
			name:        "IN profile ordered",
			countryCode: "IN",
			want:        []string{"fogsi", "icmr", "stg", "rssdi", "csi", "ncg", "iap", "patient_info"},
		},
		{
			name:        "AU profile",
			countryCode: "AU",
			want:        []string{"nhmrc", "patient_info"},
		},
		{
			name:        "unknown code falls back to international",
			countryCode: "FR",
			want:        []string{"pubmed", "patient_info"},
		},
		{
			name:        "empty code falls back to international",
			countryCode: "",
			want:        []string{"pubmed", "patient_info"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tt.countryCode)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Select(%q) = %v, want %v", tt.countryCode, got, tt.want)
			}
		})
	}
}

func TestSelect_ReturnsCopy(t *testing.T) {
	first := Select("GB")
	first[0] = "mutated"

	if got := Select("GB")[0]; got != "nice" {
		t.Errorf("Select(GB)[0] after mutation = %q, want nice", got)
	}
}

func TestProfileName(t *testing.T) {
	tests := []struct {
		countryCode string
		want        string
	}{
		{"GB", "GB"},
		{"gb", "GB"},
		{"IN", "IN"},
		{"FR", International},
		{"", International},
		{"  us ", "US"},
	}
	for _, tt := range tests {
		if got := ProfileName(tt.countryCode); got != tt.want {
			t.Errorf("ProfileName(%q) = %q, want %q", tt.countryCode, got, tt.want)
		}
	}
}

func TestSupported(t *testing.T) {
	got := Supported()
	want := []string{"AU", "GB", "IN", "US"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Supported() = %v, want %v", got, want)
	}
}

func TestResourceType_IdentityField(t *testing.T) {
	tests := []struct {
		rt   ResourceType
		want string
	}{
		{ResourceNICE, "reference"},
		{ResourceBNFSummary, "url"},
		{ResourceFOGSI, "url"},
		{ResourceCKS, "title"},
		{ResourceICMR, "title"},
		{ResourcePubMed, "title"},
	}
	for _, tt := range tests {
		if got := tt.rt.IdentityField(); got != tt.want {
			t.Errorf("%s.IdentityField() = %q, want %q", tt.rt, got, tt.want)
		}
	}
}

func TestResourceType_DetailTool(t *testing.T) {
	tests := []struct {
		rt       ResourceType
		wantTool string
		wantOK   bool
	}{
		{ResourceNICE, "get_guideline_details", true},
		{ResourceCKS, "get_cks_topic", true},
		{ResourceBNFSummary, "get_bnf_treatment_summary", true},
		{ResourceFOGSI, "get_fogsi_guideline_content", true},
		{ResourcePubMed, "", false},
		{ResourceICMR, "", false},
	}
	for _, tt := range tests {
		tool, ok := tt.rt.DetailTool()
		if tool != tt.wantTool || ok != tt.wantOK {
			t.Errorf("%s.DetailTool() = %q, %v, want %q, %v", tt.rt, tool, ok, tt.wantTool, tt.wantOK)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	gb := DefaultConfig("GB")
	if gb.RegionName != "GB" {
		t.Errorf("RegionName = %q, want GB", gb.RegionName)
	}
	if !gb.PubMedFallback {
		t.Error("PubMedFallback = false, want true for GB")
	}
	if gb.MinResultsThreshold != DefaultMinResults {
		t.Errorf("MinResultsThreshold = %d, want %d", gb.MinResultsThreshold, DefaultMinResults)
	}
	if len(gb.Searches) != 3 {
		t.Fatalf("GB searches = %d, want 3", len(gb.Searches))
	}
	if gb.Searches[0].ToolName != "search_nice_guidelines" || gb.Searches[0].ResultKey != BucketGuidelines {
		t.Errorf("first GB search = %+v, want NICE guideline search", gb.Searches[0])
	}

	intl := DefaultConfig("FR")
	if intl.RegionName != International {
		t.Errorf("RegionName = %q, want %s", intl.RegionName, International)
	}
	if intl.PubMedFallback {
		t.Error("PubMedFallback = true, want false for INTERNATIONAL")
	}
	if len(intl.Searches) != 1 || intl.Searches[0].ResourceType != ResourcePubMed {
		t.Errorf("INTERNATIONAL searches = %+v, want PubMed only", intl.Searches)
	}

	in := DefaultConfig("IN")
	if len(in.Searches) != 7 {
		t.Errorf("IN searches = %d, want 7", len(in.Searches))
	}
	for _, sc := range in.Searches {
		if sc.ToolParams["query"] != "{scenario}" {
			t.Errorf("search %s query template = %q, want {scenario}", sc.ToolName, sc.ToolParams["query"])
		}
	}
}
