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

// Package enrich resolves BNF drug dossiers for the drugs named in a
// diagnosis tree and attaches them to the treatments.
//
// Enrichment is strictly best-effort: a drug without a BNF entry, a
// failed detail fetch or a fleet without BNF tools leaves the dossier
// absent and never fails the operation. Only a dead context aborts.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/consult/pkg/clinical"
	"github.com/kadirpekel/consult/pkg/fleet"
)

// BNF tool names as advertised by the bnf knowledge server.
const (
	SearchTool = "search_bnf_drug"
	DetailTool = "get_bnf_drug_info"
)

// Enricher resolves dossiers through a tool caller.
type Enricher struct {
	caller fleet.Caller
}

// New creates an Enricher over the given caller.
func New(caller fleet.Caller) *Enricher {
	return &Enricher{caller: caller}
}

// Enrich mines the deduplicated drug names from the diagnoses, resolves a
// dossier per name concurrently, and attaches each dossier to every
// treatment naming that drug. Fleets without a BNF server are skipped
// without any calls. The returned error is non-nil only when the context
// died mid-flight.
func (e *Enricher) Enrich(ctx context.Context, diagnoses []clinical.Diagnosis) error {
	names := clinical.MinedDrugNames(diagnoses)
	if len(names) == 0 || !e.available() {
		return nil
	}

	dossiers, err := e.resolveAll(ctx, names)
	if err != nil {
		return err
	}
	if len(dossiers) == 0 {
		return nil
	}

	clinical.AttachDossiers(diagnoses, dossiers)
	return nil
}

// available reports whether the fleet advertises the BNF search tool.
func (e *Enricher) available() bool {
	if e.caller == nil {
		return false
	}
	for _, tool := range e.caller.Tools() {
		if tool.Name == SearchTool {
			return true
		}
	}
	return false
}

// resolveAll fans out one resolution per drug name. The result map is
// keyed by lowercased name, matching clinical.AttachDossiers.
func (e *Enricher) resolveAll(ctx context.Context, names []string) (map[string]*clinical.DrugDossier, error) {
	var mu sync.Mutex
	dossiers := make(map[string]*clinical.DrugDossier, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			dossier, err := e.resolve(gctx, name)
			if err != nil {
				if gctx.Err() != nil {
					return err
				}
				slog.Debug("Drug enrichment skipped", "drug", name, "error", err)
				return nil
			}
			mu.Lock()
			dossiers[strings.ToLower(name)] = dossier
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return dossiers, nil
}

// resolve looks a single drug up: search first, then details for the
// first hit's URL.
func (e *Enricher) resolve(ctx context.Context, name string) (*clinical.DrugDossier, error) {
	payload, err := e.caller.Call(ctx, SearchTool, map[string]any{"drug_name": name})
	if err != nil {
		return nil, err
	}

	url := firstHitURL(payload)
	if url == "" {
		return nil, fmt.Errorf("no BNF entry for %q", name)
	}

	detail, err := e.caller.Call(ctx, DetailTool, map[string]any{"url": url})
	if err != nil {
		return nil, err
	}

	return parseDossier(url, detail), nil
}

// firstHitURL extracts the canonical URL from a BNF search payload: the
// first hit carrying a url, whether the payload is a bare array or an
// object wrapping one under a conventional key.
func firstHitURL(payload string) string {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return ""
	}

	var items []map[string]any
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return ""
		}
	} else {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
			return ""
		}
		for _, key := range []string{"results", "hits", "items", "drugs"} {
			raw, ok := envelope[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(raw, &items); err == nil {
				break
			}
		}
	}

	for _, item := range items {
		if url, ok := item["url"].(string); ok && url != "" {
			return url
		}
	}
	return ""
}

// parseDossier builds a dossier from a detail payload. Fields the payload
// doesn't carry keep their "Not available" default; an unreadable payload
// yields a dossier holding only the canonical URL.
func parseDossier(url, payload string) *clinical.DrugDossier {
	dossier := clinical.NewDrugDossier(url)

	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return dossier
	}

	assign := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := fields[key].(string); ok && strings.TrimSpace(v) != "" {
				*dst = v
				return
			}
		}
	}

	assign(&dossier.Indications, "indications")
	assign(&dossier.Dosage, "dosage", "dose")
	assign(&dossier.Contraindications, "contraindications", "contra_indications")
	assign(&dossier.Cautions, "cautions")
	assign(&dossier.SideEffects, "side_effects", "adverse_effects")
	assign(&dossier.Interactions, "interactions")

	return dossier
}
