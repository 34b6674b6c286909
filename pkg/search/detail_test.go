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

package search

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/region"
)

func TestFetcher_Fetch(t *testing.T) {
	caller := newFakeCaller()
	caller.respond("get_guideline_details", `{"content":"Croup overview mentioning dexamethasone"}`)
	caller.respond("get_cks_topic", `{"content":"CKS croup topic"}`)
	caller.respond("get_bnf_treatment_summary", `plain text summary`)

	rs := &ResultSet{
		Guidelines: []Hit{
			{Source: region.ResourceNICE, Fields: map[string]any{"title": "Croup", "reference": "CG69"}},
		},
		CKSTopics: []Hit{
			{Source: region.ResourceCKS, Fields: map[string]any{"title": "Croup topic", "url": "https://cks.example/croup"}},
		},
		BNFSummaries: []Hit{
			{Source: region.ResourceBNFSummary, Fields: map[string]any{"title": "Croup treatment", "url": "https://bnf.example/croup"}},
		},
	}

	corpus, err := NewFetcher(caller).Fetch(context.Background(), rs)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if len(corpus.Guidelines) != 1 {
		t.Fatalf("Guidelines = %d docs, want 1", len(corpus.Guidelines))
	}
	doc := corpus.Guidelines[0]
	if !strings.Contains(doc.Content, "dexamethasone") {
		t.Errorf("guideline content = %q, want overview text", doc.Content)
	}
	if doc.Reference != "CG69" || doc.Source != region.ResourceNICE {
		t.Errorf("doc = %+v, want CG69 NICE metadata", doc)
	}

	if len(corpus.CKSTopics) != 1 || corpus.CKSTopics[0].Content != "CKS croup topic" {
		t.Errorf("CKSTopics = %+v", corpus.CKSTopics)
	}
	// Non-JSON payloads pass through raw.
	if len(corpus.BNFSummaries) != 1 || corpus.BNFSummaries[0].Content != "plain text summary" {
		t.Errorf("BNFSummaries = %+v", corpus.BNFSummaries)
	}
	if len(corpus.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", corpus.Warnings)
	}
	if corpus.IsEmpty() {
		t.Error("IsEmpty() = true, want false")
	}
}

func TestFetcher_Fetch_PerHitFailureIsolated(t *testing.T) {
	caller := newFakeCaller()
	caller.respond("get_guideline_details", `{"content":"good detail"}`)
	caller.fail("get_fogsi_guideline_content", fmt.Errorf("boom: %w", fleet.ErrUpstream))

	rs := &ResultSet{
		Guidelines: []Hit{
			{Source: region.ResourceNICE, Fields: map[string]any{"title": "Kept", "reference": "NG1"}},
			{Source: region.ResourceFOGSI, Fields: map[string]any{"title": "Dropped", "url": "https://fogsi.example/x"}},
		},
	}

	corpus, err := NewFetcher(caller).Fetch(context.Background(), rs)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if len(corpus.Guidelines) != 1 || corpus.Guidelines[0].Title != "Kept" {
		t.Fatalf("Guidelines = %+v, want only the surviving doc", corpus.Guidelines)
	}
	if len(corpus.Warnings) != 1 || !strings.Contains(corpus.Warnings[0], "Dropped") {
		t.Errorf("Warnings = %v, want one naming the dropped hit", corpus.Warnings)
	}
}

func TestFetcher_Fetch_SourcesWithoutDetailToolUseSnippet(t *testing.T) {
	caller := newFakeCaller()

	rs := &ResultSet{
		Guidelines: []Hit{
			{Source: region.ResourceICMR, Fields: map[string]any{
				"title":   "Dengue Management",
				"summary": "ICMR dengue summary text",
			}},
		},
	}

	corpus, err := NewFetcher(caller).Fetch(context.Background(), rs)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(corpus.Guidelines) != 1 {
		t.Fatalf("Guidelines = %d docs, want 1", len(corpus.Guidelines))
	}
	if got := corpus.Guidelines[0].Content; got != "ICMR dengue summary text" {
		t.Errorf("Content = %q, want the hit's own summary", got)
	}
	if len(caller.calls) != 0 {
		t.Errorf("calls = %v, want no detail calls for snippet sources", caller.calls)
	}
}

func TestFetcher_Fetch_OrderFollowsHits(t *testing.T) {
	caller := newFakeCaller()
	caller.respond("get_guideline_details", `{"content":"detail"}`)

	rs := &ResultSet{Guidelines: []Hit{
		{Source: region.ResourceNICE, Fields: map[string]any{"title": "First", "reference": "NG1"}},
		{Source: region.ResourceICMR, Fields: map[string]any{"title": "Second", "summary": "s"}},
		{Source: region.ResourceNICE, Fields: map[string]any{"title": "Third", "reference": "NG3"}},
	}}

	corpus, err := NewFetcher(caller).Fetch(context.Background(), rs)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	var titles []string
	for _, doc := range corpus.Guidelines {
		titles = append(titles, doc.Title)
	}
	want := []string{"First", "Second", "Third"}
	if len(titles) != len(want) {
		t.Fatalf("documents = %v, want %v", titles, want)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("document order = %v, want %v", titles, want)
		}
	}
}

func TestDetailParams(t *testing.T) {
	tests := []struct {
		name    string
		hit     Hit
		wantKey string
		wantVal string
	}{
		{
			name:    "NICE prefers reference",
			hit:     Hit{Source: region.ResourceNICE, Fields: map[string]any{"reference": "CG69", "url": "https://x"}},
			wantKey: "reference",
			wantVal: "CG69",
		},
		{
			name:    "CKS uses URL",
			hit:     Hit{Source: region.ResourceCKS, Fields: map[string]any{"url": "https://cks.example/croup"}},
			wantKey: "url",
			wantVal: "https://cks.example/croup",
		},
		{
			name:    "falls back to title",
			hit:     Hit{Source: region.ResourceCKS, Fields: map[string]any{"title": "Croup"}},
			wantKey: "title",
			wantVal: "Croup",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := detailParams(tt.hit)
			if got := params[tt.wantKey]; got != tt.wantVal {
				t.Errorf("detailParams() = %v, want %s=%q", params, tt.wantKey, tt.wantVal)
			}
		})
	}
}

func TestCorpus_AllDocuments(t *testing.T) {
	corpus := &Corpus{
		Guidelines:   []Document{{Title: "G"}},
		CKSTopics:    []Document{{Title: "C"}},
		BNFSummaries: []Document{{Title: "B"}},
	}
	if got := len(corpus.AllDocuments()); got != 3 {
		t.Errorf("AllDocuments() = %d, want 3", got)
	}

	empty := &Corpus{}
	if !empty.IsEmpty() {
		t.Error("IsEmpty() = false for empty corpus")
	}
}
