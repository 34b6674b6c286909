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

// Package clinical holds the domain model of a consultation: the diagnosis
// tree produced by the LLM, the drug dossiers attached by enrichment, and
// the report returned to callers.
package clinical

import "strings"

// NotAvailable fills dossier fields the upstream drug page did not provide.
const NotAvailable = "Not available"

// Confidence levels for a diagnosis.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// Diagnosis is one entry of the differential with its treatment options.
type Diagnosis struct {
	Name       string      `json:"name" jsonschema:"description=Diagnosis name"`
	Confidence string      `json:"confidence" jsonschema:"enum=high,enum=medium,enum=low,description=Confidence in this diagnosis"`
	Treatments []Treatment `json:"treatments" jsonschema:"description=Treatment options in order of preference"`
}

// Treatment is one treatment option. BNFInfo is populated by enrichment
// after the LLM answer is parsed; drugs the enrichment could not resolve are
// simply absent from the map.
type Treatment struct {
	Label     string   `json:"label" jsonschema:"description=Short treatment label"`
	DrugNames []string `json:"drug_names" jsonschema:"description=Generic drug names only"`
	Notes     string   `json:"notes,omitempty" jsonschema:"description=Dosing or escalation notes"`

	BNFInfo map[string]*DrugDossier `json:"bnf_info,omitempty" jsonschema:"-"`
}

// DrugDossier is the structured drug information pulled from a BNF-style
// drug page. Every field defaults to "Not available".
type DrugDossier struct {
	URL               string `json:"url"`
	Indications       string `json:"indications"`
	Dosage            string `json:"dosage"`
	Contraindications string `json:"contraindications"`
	Cautions          string `json:"cautions"`
	SideEffects       string `json:"side_effects"`
	Interactions      string `json:"interactions"`
}

// NewDrugDossier returns a dossier with every field set to NotAvailable.
func NewDrugDossier(url string) *DrugDossier {
	if url == "" {
		url = NotAvailable
	}
	return &DrugDossier{
		URL:               url,
		Indications:       NotAvailable,
		Dosage:            NotAvailable,
		Contraindications: NotAvailable,
		Cautions:          NotAvailable,
		SideEffects:       NotAvailable,
		Interactions:      NotAvailable,
	}
}

// Report is the final value of a consultation. Warnings carry every
// non-fatal shortfall: servers that failed to start, searches that returned
// nothing, an exhausted tool loop. An empty diagnosis list is a valid
// report, never an error.
type Report struct {
	Diagnoses []Diagnosis `json:"diagnoses"`
	Summary   string      `json:"summary"`
	Warnings  []string    `json:"warnings"`
}

// MinedDrugNames collects the distinct drug names across the diagnosis tree,
// case-insensitively, preserving first-seen casing and encounter order.
func MinedDrugNames(diagnoses []Diagnosis) []string {
	seen := make(map[string]bool)
	var names []string
	for _, d := range diagnoses {
		for _, t := range d.Treatments {
			for _, name := range t.DrugNames {
				trimmed := strings.TrimSpace(name)
				if trimmed == "" {
					continue
				}
				key := strings.ToLower(trimmed)
				if seen[key] {
					continue
				}
				seen[key] = true
				names = append(names, trimmed)
			}
		}
	}
	return names
}

// AttachDossiers writes each dossier into every treatment that names its
// drug, matching case-insensitively. The dossiers map is keyed by lowercased
// drug name.
func AttachDossiers(diagnoses []Diagnosis, dossiers map[string]*DrugDossier) {
	if len(dossiers) == 0 {
		return
	}
	for i := range diagnoses {
		for j := range diagnoses[i].Treatments {
			t := &diagnoses[i].Treatments[j]
			for _, name := range t.DrugNames {
				dossier, ok := dossiers[strings.ToLower(strings.TrimSpace(name))]
				if !ok {
					continue
				}
				if t.BNFInfo == nil {
					t.BNFInfo = make(map[string]*DrugDossier)
				}
				t.BNFInfo[name] = dossier
			}
		}
	}
}
