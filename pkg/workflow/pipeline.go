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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/consult/pkg/agent"
	"github.com/kadirpekel/consult/pkg/clinical"
	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/llm"
	"github.com/kadirpekel/consult/pkg/region"
	"github.com/kadirpekel/consult/pkg/search"
)

const extractionSystemPrompt = `You are a clinical decision support assistant. You are given a patient scenario together with excerpts from authoritative medical sources that were retrieved for it.

Rules:
- Ground every diagnosis and treatment in the provided source excerpts. Do not invent guidance.
- If the sources do not support a confident answer, say so with a low confidence rather than guessing.
- Your final message must contain nothing but the answer JSON.`

// extractionPrompt builds the single extraction turn: scenario, retrieved
// corpus, and the exact answer schema.
func extractionPrompt(scenario, corpus string) string {
	return fmt.Sprintf(`Clinical scenario:

%s

Retrieved source material:

%s

Using only the source material above, answer with a single JSON object that conforms to this schema:

%s

List diagnoses in order of likelihood with a confidence of high, medium or low, and for each treatment name the specific drugs in drug_names. Wrap the JSON object in a %s fence and output nothing else.`,
		scenario, corpus, clinical.AnswerSchemaJSON(), "```json")
}

// GuidelinePipeline is the non-agentic analysis path: regional search, detail
// fetch, then one tool-free extraction call with the retrieved corpus inlined
// into the prompt.
type GuidelinePipeline struct {
	llm             llm.Client
	caller          fleet.Caller
	search          search.Config
	maxCorpusTokens int
}

// NewGuidelinePipeline creates the pipeline over the given model client and
// tool caller.
func NewGuidelinePipeline(client llm.Client, caller fleet.Caller, searchCfg search.Config, maxCorpusTokens int) *GuidelinePipeline {
	if maxCorpusTokens <= 0 {
		maxCorpusTokens = DefaultMaxCorpusTokens
	}
	return &GuidelinePipeline{
		llm:             client,
		caller:          caller,
		search:          searchCfg,
		maxCorpusTokens: maxCorpusTokens,
	}
}

// PipelineResult carries the outcome of one pipeline run.
type PipelineResult struct {
	// Diagnoses extracted from the model's answer. Empty when nothing
	// usable came back.
	Diagnoses []clinical.Diagnosis

	// Results is the merged regional search output, kept for diagnostics.
	Results *search.ResultSet

	// Warnings records soft failures: failed searches, dropped documents,
	// unparseable output.
	Warnings []string

	// Usage is the token accounting of the extraction call.
	Usage llm.Usage
}

// Run executes the pipeline for one scenario. Search and fetch failures
// degrade to warnings; an empty corpus skips the model call entirely. Only
// cancellation, deadline expiry or a failed model call abort.
func (p *GuidelinePipeline) Run(ctx context.Context, regionCfg region.Config, scenario string) (*PipelineResult, error) {
	result := &PipelineResult{}

	rs, corpus, err := p.retrieve(ctx, regionCfg, scenario)
	if err != nil {
		return nil, err
	}
	result.Results = rs
	result.Warnings = append(result.Warnings, rs.Warnings...)
	result.Warnings = append(result.Warnings, corpus.Warnings...)

	documents := append(corpus.AllDocuments(), pubmedDocuments(rs.PubMedArticles)...)
	if len(documents) == 0 {
		result.Warnings = append(result.Warnings, "no source documents retrieved")
		return result, nil
	}

	if p.llm == nil {
		result.Warnings = append(result.Warnings, "no llm configured, returning empty analysis")
		return result, nil
	}

	rendered, truncWarning := renderCorpus(documents, p.maxCorpusTokens, p.llm.Name())
	if truncWarning != "" {
		result.Warnings = append(result.Warnings, truncWarning)
	}

	resp, err := p.llm.Send(ctx, &llm.Request{
		System:   extractionSystemPrompt,
		Messages: []llm.Message{llm.UserText(extractionPrompt(scenario, rendered))},
	})
	if err != nil {
		return nil, classifySendErr(ctx, err)
	}
	result.Usage = resp.Usage

	text := resp.Text()
	payload, ok := agent.ExtractJSON(text)
	if !ok {
		result.Warnings = append(result.Warnings, "no JSON object found in model output")
		return result, nil
	}
	diagnoses, err := clinical.ParseDiagnoses(payload)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("model output could not be parsed: %v", err))
		return result, nil
	}
	result.Diagnoses = diagnoses

	slog.Debug("Extraction complete",
		"documents", len(documents),
		"diagnoses", len(result.Diagnoses),
		"warnings", len(result.Warnings))
	return result, nil
}

// retrieve runs the regional search and the detail fetch under one span.
func (p *GuidelinePipeline) retrieve(ctx context.Context, regionCfg region.Config, scenario string) (*search.ResultSet, *search.Corpus, error) {
	ctx, span := startSearchSpan(ctx, regionCfg.RegionName)
	defer span.End()

	rs, err := search.NewService(p.caller, p.search).Run(ctx, regionCfg, scenario)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	corpus, err := search.NewFetcher(p.caller).Fetch(ctx, rs)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	return rs, corpus, nil
}

// pubmedDocuments converts PubMed hits to documents directly: abstracts
// arrive with the search reply, there is no follow-up detail call.
func pubmedDocuments(hits []search.Hit) []search.Document {
	docs := make([]search.Document, 0, len(hits))
	for _, hit := range hits {
		content := hit.Snippet()
		if content == "" {
			content = hit.Title()
		}
		docs = append(docs, search.Document{
			Source:    region.ResourcePubMed,
			Title:     hit.Title(),
			URL:       hit.URL(),
			Reference: hit.Reference(),
			Content:   content,
		})
	}
	return docs
}

// renderCorpus lays the documents out as prompt sections within the token
// budget. Whole documents are kept in order until one no longer fits; that
// one is cut to the remaining budget and the rest are dropped, reported in
// the returned warning. At least one document always survives.
func renderCorpus(documents []search.Document, maxTokens int, model string) (string, string) {
	counter, err := newTokenCounter(model)
	if err != nil {
		slog.Warn("Token encoding unavailable, using estimate", "model", model, "error", err)
	}
	return renderCorpusWith(documents, maxTokens, counter)
}

func renderCorpusWith(documents []search.Document, maxTokens int, counter *tokenCounter) (string, string) {
	var (
		sections []string
		used     int
		dropped  int
	)
	for i, doc := range documents {
		section := renderDocument(doc)
		tokens := counter.Count(section)

		if used+tokens > maxTokens {
			remaining := maxTokens - used
			if i == 0 || remaining >= tokens/2 {
				sections = append(sections, truncateToTokens(section, remaining, counter))
			} else {
				dropped++
			}
			dropped += len(documents) - i - 1
			break
		}
		sections = append(sections, section)
		used += tokens
	}

	warning := ""
	if dropped > 0 {
		warning = fmt.Sprintf("corpus over %d token budget: dropped %d of %d documents", maxTokens, dropped, len(documents))
	}
	return strings.Join(sections, "\n\n"), warning
}

func renderDocument(doc search.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s: %s", doc.Source, doc.Title)
	if doc.Reference != "" {
		fmt.Fprintf(&b, " (%s)", doc.Reference)
	}
	if doc.URL != "" {
		fmt.Fprintf(&b, " <%s>", doc.URL)
	}
	b.WriteString(" ---\n")
	b.WriteString(doc.Content)
	return b.String()
}

// truncateToTokens cuts text to roughly the given token budget. The final
// size honors the counter where one is available and the four-characters-
// per-token estimate otherwise.
func truncateToTokens(text string, maxTokens int, counter *tokenCounter) string {
	if maxTokens <= 0 {
		return ""
	}
	if counter.Count(text) <= maxTokens {
		return text
	}
	cut := maxTokens * 4
	if cut > len(text) {
		cut = len(text)
	}
	for cut > 0 && counter.Count(text[:cut]) > maxTokens {
		cut = cut * 3 / 4
	}
	return text[:cut] + "\n[truncated]"
}

// classifySendErr maps a failed extraction call onto the fleet error kinds,
// mirroring the tool-use driver.
func classifySendErr(ctx context.Context, err error) error {
	switch ctx.Err() {
	case context.Canceled:
		return fmt.Errorf("%w: llm call aborted: %v", fleet.ErrCancelled, err)
	case context.DeadlineExceeded:
		return fmt.Errorf("%w: llm call aborted: %v", fleet.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: llm: %v", fleet.ErrUpstream, err)
	}
}
