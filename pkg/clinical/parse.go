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

package clinical

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LLM answers drift between schema revisions: treatments arrive under
// "label" or "name", drugs under "drug_names", "medication_names" or
// "drugs". The raw types below accept all spellings; ParseDiagnoses
// canonicalizes.

type rawAnswer struct {
	Diagnoses []rawDiagnosis `json:"diagnoses"`
}

type rawDiagnosis struct {
	Name       string         `json:"name"`
	Diagnosis  string         `json:"diagnosis"`
	Confidence string         `json:"confidence"`
	Treatments []rawTreatment `json:"treatments"`
}

type rawTreatment struct {
	Label           string   `json:"label"`
	Name            string   `json:"name"`
	DrugNames       []string `json:"drug_names"`
	MedicationNames []string `json:"medication_names"`
	Drugs           []string `json:"drugs"`
	Notes           string   `json:"notes"`
}

// ParseDiagnoses decodes an LLM answer payload into the diagnosis tree. The
// payload is either a {"diagnoses": [...]} envelope or a bare array.
func ParseDiagnoses(payload string) ([]Diagnosis, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("empty answer payload")
	}

	var raws []rawDiagnosis
	if strings.HasPrefix(payload, "[") {
		if err := json.Unmarshal([]byte(payload), &raws); err != nil {
			return nil, fmt.Errorf("decoding diagnosis array: %w", err)
		}
	} else {
		var answer rawAnswer
		if err := json.Unmarshal([]byte(payload), &answer); err != nil {
			return nil, fmt.Errorf("decoding diagnosis envelope: %w", err)
		}
		raws = answer.Diagnoses
	}

	diagnoses := make([]Diagnosis, 0, len(raws))
	for _, raw := range raws {
		name := strings.TrimSpace(raw.Name)
		if name == "" {
			name = strings.TrimSpace(raw.Diagnosis)
		}
		if name == "" {
			continue
		}
		diagnoses = append(diagnoses, Diagnosis{
			Name:       name,
			Confidence: normalizeConfidence(raw.Confidence),
			Treatments: convertTreatments(raw.Treatments),
		})
	}
	return diagnoses, nil
}

func convertTreatments(raws []rawTreatment) []Treatment {
	treatments := make([]Treatment, 0, len(raws))
	for _, raw := range raws {
		label := strings.TrimSpace(raw.Label)
		if label == "" {
			label = strings.TrimSpace(raw.Name)
		}
		drugs := raw.DrugNames
		if len(drugs) == 0 {
			drugs = raw.MedicationNames
		}
		if len(drugs) == 0 {
			drugs = raw.Drugs
		}
		cleaned := make([]string, 0, len(drugs))
		for _, d := range drugs {
			if d = strings.TrimSpace(d); d != "" {
				cleaned = append(cleaned, d)
			}
		}
		if label == "" && len(cleaned) == 0 && strings.TrimSpace(raw.Notes) == "" {
			continue
		}
		treatments = append(treatments, Treatment{
			Label:     label,
			DrugNames: cleaned,
			Notes:     strings.TrimSpace(raw.Notes),
		})
	}
	return treatments
}

func normalizeConfidence(confidence string) string {
	switch strings.ToLower(strings.TrimSpace(confidence)) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium, "moderate":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}
