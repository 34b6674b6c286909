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

// ResourceType tags the upstream source of a search or a hit. The tag drives
// the dedup identity key and the follow-up detail tool.
type ResourceType string

const (
	ResourceNICE       ResourceType = "NICE"
	ResourceCKS        ResourceType = "CKS"
	ResourceBNFSummary ResourceType = "BNF_SUMMARY"
	ResourceFOGSI      ResourceType = "FOGSI"
	ResourceICMR       ResourceType = "ICMR"
	ResourceSTG        ResourceType = "STG"
	ResourceRSSDI      ResourceType = "RSSDI"
	ResourceCSI        ResourceType = "CSI"
	ResourceNCG        ResourceType = "NCG"
	ResourceIAP        ResourceType = "IAP"
	ResourceUSPSTF     ResourceType = "USPSTF"
	ResourceCDC        ResourceType = "CDC"
	ResourceIDSA       ResourceType = "IDSA"
	ResourceADA        ResourceType = "ADA"
	ResourceAHAACC     ResourceType = "AHA_ACC"
	ResourceAAP        ResourceType = "AAP"
	ResourceNHMRC      ResourceType = "NHMRC"
	ResourcePubMed     ResourceType = "PUBMED"
)

// Result buckets of a regional search.
const (
	BucketGuidelines     = "guidelines"
	BucketCKSTopics      = "cks_topics"
	BucketBNFSummaries   = "bnf_summaries"
	BucketPubMedArticles = "pubmed_articles"
)

// IdentityField names the hit field that identifies a duplicate for this
// source: URL for BNF and FOGSI, the guideline reference for NICE, the
// lowercased title for everything else.
func (r ResourceType) IdentityField() string {
	switch r {
	case ResourceBNFSummary, ResourceFOGSI:
		return "url"
	case ResourceNICE:
		return "reference"
	default:
		return "title"
	}
}

// DetailTool returns the follow-up tool that fetches full content for a hit
// of this source, or false when the source has no detail call.
func (r ResourceType) DetailTool() (string, bool) {
	switch r {
	case ResourceNICE:
		return "get_guideline_details", true
	case ResourceCKS:
		return "get_cks_topic", true
	case ResourceBNFSummary:
		return "get_bnf_treatment_summary", true
	case ResourceFOGSI:
		return "get_fogsi_guideline_content", true
	default:
		return "", false
	}
}

// SearchConfig is one declarative search operation. ToolParams values
// containing the {scenario} placeholder are interpolated at run time.
type SearchConfig struct {
	ResourceType ResourceType      `yaml:"resource_type" json:"resource_type"`
	ToolName     string            `yaml:"tool_name" json:"tool_name"`
	ToolParams   map[string]string `yaml:"tool_params" json:"tool_params"`
	ResultKey    string            `yaml:"result_key" json:"result_key"`
	Deduplicate  bool              `yaml:"deduplicate" json:"deduplicate"`
}

// Config is the declarative search plan for one region profile. Values are
// never mutated after load.
type Config struct {
	RegionName          string         `yaml:"region_name" json:"region_name"`
	Searches            []SearchConfig `yaml:"searches" json:"searches"`
	PubMedFallback      bool           `yaml:"pubmed_fallback" json:"pubmed_fallback"`
	MinResultsThreshold int            `yaml:"min_results_threshold" json:"min_results_threshold"`
}

// DefaultMinResults is the fallback trigger: when a regional search yields
// fewer combined guideline and CKS hits than this, PubMed runs as well.
const DefaultMinResults = 2

func guidelineSearch(rt ResourceType, tool string) SearchConfig {
	return SearchConfig{
		ResourceType: rt,
		ToolName:     tool,
		ToolParams:   map[string]string{"query": "{scenario}"},
		ResultKey:    BucketGuidelines,
		Deduplicate:  true,
	}
}

// PubMedSearch is the search used both by the INTERNATIONAL profile and by
// the below-threshold fallback of every other profile.
func PubMedSearch() SearchConfig {
	return SearchConfig{
		ResourceType: ResourcePubMed,
		ToolName:     "search_pubmed_articles",
		ToolParams:   map[string]string{"query": "{scenario}"},
		ResultKey:    BucketPubMedArticles,
		Deduplicate:  true,
	}
}

// DefaultConfig returns the built-in search plan for a country code. Unknown
// codes get the INTERNATIONAL plan: PubMed only, no fallback needed.
func DefaultConfig(countryCode string) Config {
	name := ProfileName(countryCode)
	cfg := Config{
		RegionName:          name,
		PubMedFallback:      true,
		MinResultsThreshold: DefaultMinResults,
	}

	switch name {
	case "GB":
		cfg.Searches = []SearchConfig{
			{
				ResourceType: ResourceNICE,
				ToolName:     "search_nice_guidelines",
				ToolParams:   map[string]string{"query": "{scenario}"},
				ResultKey:    BucketGuidelines,
				Deduplicate:  true,
			},
			{
				ResourceType: ResourceCKS,
				ToolName:     "search_cks_topics",
				ToolParams:   map[string]string{"query": "{scenario}"},
				ResultKey:    BucketCKSTopics,
				Deduplicate:  true,
			},
			{
				ResourceType: ResourceBNFSummary,
				ToolName:     "search_bnf_treatment_summaries",
				ToolParams:   map[string]string{"query": "{scenario}"},
				ResultKey:    BucketBNFSummaries,
				Deduplicate:  true,
			},
		}
	case "IN":
		cfg.Searches = []SearchConfig{
			{
				ResourceType: ResourceFOGSI,
				ToolName:     "search_fogsi_guidelines",
				ToolParams:   map[string]string{"query": "{scenario}"},
				ResultKey:    BucketGuidelines,
				Deduplicate:  true,
			},
			guidelineSearch(ResourceICMR, "search_icmr_guidelines"),
			guidelineSearch(ResourceSTG, "search_stg_guidelines"),
			guidelineSearch(ResourceRSSDI, "search_rssdi_guidelines"),
			guidelineSearch(ResourceCSI, "search_csi_guidelines"),
			guidelineSearch(ResourceNCG, "search_ncg_guidelines"),
			guidelineSearch(ResourceIAP, "search_iap_guidelines"),
		}
	case "US":
		cfg.Searches = []SearchConfig{
			guidelineSearch(ResourceUSPSTF, "search_uspstf_guidelines"),
			guidelineSearch(ResourceCDC, "search_cdc_guidelines"),
			guidelineSearch(ResourceIDSA, "search_idsa_guidelines"),
			guidelineSearch(ResourceADA, "search_ada_guidelines"),
			guidelineSearch(ResourceAHAACC, "search_aha_acc_guidelines"),
			guidelineSearch(ResourceAAP, "search_aap_guidelines"),
		}
	case "AU":
		cfg.Searches = []SearchConfig{
			guidelineSearch(ResourceNHMRC, "search_nhmrc_guidelines"),
		}
	default:
		cfg.Searches = []SearchConfig{PubMedSearch()}
		cfg.PubMedFallback = false
	}
	return cfg
}
