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
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/region"
)

// Document is one piece of fetched source content handed to the LLM.
type Document struct {
	Source    region.ResourceType `json:"source"`
	Title     string              `json:"title"`
	URL       string              `json:"url,omitempty"`
	Reference string              `json:"reference,omitempty"`
	Content   string              `json:"content"`
}

// Corpus is the full-content output of a detail fetch run.
type Corpus struct {
	Guidelines   []Document `json:"guidelines"`
	CKSTopics    []Document `json:"cks_topics"`
	BNFSummaries []Document `json:"bnf_summaries"`
	Warnings     []string   `json:"warnings,omitempty"`
}

// IsEmpty reports whether the corpus holds no content at all.
func (c *Corpus) IsEmpty() bool {
	return len(c.Guidelines) == 0 && len(c.CKSTopics) == 0 && len(c.BNFSummaries) == 0
}

// AllDocuments returns guideline, CKS and BNF documents as one list.
func (c *Corpus) AllDocuments() []Document {
	out := make([]Document, 0, len(c.Guidelines)+len(c.CKSTopics)+len(c.BNFSummaries))
	out = append(out, c.Guidelines...)
	out = append(out, c.CKSTopics...)
	out = append(out, c.BNFSummaries...)
	return out
}

// Fetcher resolves search hits into full documents through per-source
// detail tools.
type Fetcher struct {
	caller fleet.Caller
}

// NewFetcher creates a detail fetcher over the given tool caller.
func NewFetcher(caller fleet.Caller) *Fetcher {
	return &Fetcher{caller: caller}
}

// Fetch retrieves full content for every hit in parallel. Hits whose source
// has a detail tool are fetched through it; a per-hit failure drops that
// document with a warning and never disturbs siblings. Hits without a detail
// tool contribute whatever text they already carry. Document order follows
// hit order regardless of completion order.
func (f *Fetcher) Fetch(ctx context.Context, rs *ResultSet) (*Corpus, error) {
	corpus := &Corpus{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	fetchBucket := func(hits []Hit, out *[]Document) {
		docs := make([]*Document, len(hits))
		g.Go(func() error {
			inner, ictx := errgroup.WithContext(gctx)
			for i, hit := range hits {
				inner.Go(func() error {
					doc, err := f.fetchOne(ictx, hit)
					if err != nil {
						if ictx.Err() != nil {
							return batchAbort(hit.Title(), ictx.Err())
						}
						mu.Lock()
						corpus.Warnings = append(corpus.Warnings, fmt.Sprintf("detail fetch for %q failed: %v", hit.Title(), err))
						mu.Unlock()
						slog.Warn("Detail fetch failed", "title", hit.Title(), "source", hit.Source, "error", err)
						return nil
					}
					docs[i] = doc
					return nil
				})
			}
			if err := inner.Wait(); err != nil {
				return err
			}
			mu.Lock()
			for _, doc := range docs {
				if doc != nil {
					*out = append(*out, *doc)
				}
			}
			mu.Unlock()
			return nil
		})
	}

	fetchBucket(rs.Guidelines, &corpus.Guidelines)
	fetchBucket(rs.CKSTopics, &corpus.CKSTopics)
	fetchBucket(rs.BNFSummaries, &corpus.BNFSummaries)

	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Debug("Detail fetch complete",
		"guidelines", len(corpus.Guidelines),
		"cks_topics", len(corpus.CKSTopics),
		"bnf_summaries", len(corpus.BNFSummaries),
		"warnings", len(corpus.Warnings))
	return corpus, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, hit Hit) (*Document, error) {
	doc := &Document{
		Source:    hit.Source,
		Title:     hit.Title(),
		URL:       hit.URL(),
		Reference: hit.Reference(),
	}

	tool, ok := hit.Source.DetailTool()
	if !ok {
		doc.Content = hit.Snippet()
		if doc.Content == "" {
			doc.Content = hit.Title()
		}
		return doc, nil
	}

	payload, err := f.caller.Call(ctx, tool, detailParams(hit))
	if err != nil {
		return nil, err
	}
	doc.Content = parseContent(payload)
	return doc, nil
}

// detailParams picks the lookup argument for a detail call: NICE guidelines
// are keyed by reference, everything else by URL, with title as last resort.
func detailParams(hit Hit) map[string]any {
	if hit.Source == region.ResourceNICE {
		if ref := hit.Reference(); ref != "" {
			return map[string]any{"reference": ref}
		}
	}
	if url := hit.URL(); url != "" {
		return map[string]any{"url": url}
	}
	if ref := hit.Reference(); ref != "" {
		return map[string]any{"reference": ref}
	}
	return map[string]any{"title": hit.Title()}
}

// parseContent extracts the text body from a detail payload: a JSON object
// with a recognized content field, or the raw payload when it is not JSON.
func parseContent(payload string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return payload
	}
	for _, key := range []string{"content", "overview", "text", "summary", "body"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	return payload
}
