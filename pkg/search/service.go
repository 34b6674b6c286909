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

// Package search runs a region's declarative search plan against the fleet:
// concurrent fan-out, per-bucket first-wins deduplication, top-K truncation
// and the PubMed fallback, plus the follow-up detail fetch.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/region"
)

// Default top-K truncation bounds, applied after dedup.
const (
	DefaultTopKGuidelines = 5
	DefaultTopKCKS        = 3
	DefaultTopKBNF        = 3
	DefaultTopKPubMed     = 5
)

// Config bounds the result set sizes.
type Config struct {
	TopKGuidelines int `yaml:"top_k_guidelines,omitempty" json:"top_k_guidelines,omitempty"`
	TopKCKS        int `yaml:"top_k_cks,omitempty" json:"top_k_cks,omitempty"`
	TopKBNF        int `yaml:"top_k_bnf,omitempty" json:"top_k_bnf,omitempty"`
	TopKPubMed     int `yaml:"top_k_pubmed,omitempty" json:"top_k_pubmed,omitempty"`
}

// SetDefaults applies default configuration values.
func (c *Config) SetDefaults() {
	if c.TopKGuidelines <= 0 {
		c.TopKGuidelines = DefaultTopKGuidelines
	}
	if c.TopKCKS <= 0 {
		c.TopKCKS = DefaultTopKCKS
	}
	if c.TopKBNF <= 0 {
		c.TopKBNF = DefaultTopKBNF
	}
	if c.TopKPubMed <= 0 {
		c.TopKPubMed = DefaultTopKPubMed
	}
}

// ResultSet is the merged output of one regional search run. Hits within a
// bucket are ordered by producer completion, deduplicated first-wins, and
// truncated to the configured top-K.
type ResultSet struct {
	Guidelines     []Hit    `json:"guidelines"`
	CKSTopics      []Hit    `json:"cks_topics"`
	BNFSummaries   []Hit    `json:"bnf_summaries"`
	PubMedArticles []Hit    `json:"pubmed_articles"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Service executes search plans through a tool caller.
type Service struct {
	caller fleet.Caller
	cfg    Config
}

// NewService creates a search service over the given tool caller.
func NewService(caller fleet.Caller, cfg Config) *Service {
	cfg.SetDefaults()
	return &Service{caller: caller, cfg: cfg}
}

// collector accumulates hits per bucket in completion order, deduplicating
// by identity key as they arrive so the earliest producer wins.
type collector struct {
	mu       sync.Mutex
	buckets  map[string][]Hit
	seen     map[string]map[string]bool
	warnings []string
}

func newCollector() *collector {
	return &collector{
		buckets: make(map[string][]Hit),
		seen:    make(map[string]map[string]bool),
	}
}

func (c *collector) add(cfg region.SearchConfig, hits []Hit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bucket := cfg.ResultKey
	if c.seen[bucket] == nil {
		c.seen[bucket] = make(map[string]bool)
	}
	for _, hit := range hits {
		if cfg.Deduplicate {
			if id := hit.Identity(); id != "" {
				if c.seen[bucket][id] {
					continue
				}
				c.seen[bucket][id] = true
			}
		}
		c.buckets[bucket] = append(c.buckets[bucket], hit)
	}
}

func (c *collector) warnf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, fmt.Sprintf(format, args...))
}

func (c *collector) snapshot(bucket string) []Hit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buckets[bucket]
}

// Run executes the region's search plan for a scenario. Every search is
// independently fault-tolerant: a failure contributes an empty list and a
// warning. Run itself fails only on cancellation or deadline expiry.
func (s *Service) Run(ctx context.Context, regionCfg region.Config, scenario string) (*ResultSet, error) {
	col := newCollector()

	if err := s.runBatch(ctx, regionCfg.Searches, scenario, col); err != nil {
		return nil, err
	}

	// PubMed fallback when the regional sources came up short.
	threshold := regionCfg.MinResultsThreshold
	if threshold <= 0 {
		threshold = region.DefaultMinResults
	}
	total := len(col.snapshot(region.BucketGuidelines)) + len(col.snapshot(region.BucketCKSTopics))
	if regionCfg.PubMedFallback && total < threshold {
		slog.Info("Regional results below threshold, falling back to PubMed",
			"region", regionCfg.RegionName, "total", total, "threshold", threshold)
		if err := s.runBatch(ctx, []region.SearchConfig{region.PubMedSearch()}, scenario, col); err != nil {
			return nil, err
		}
	}

	rs := &ResultSet{
		Guidelines:     truncate(col.snapshot(region.BucketGuidelines), s.cfg.TopKGuidelines),
		CKSTopics:      truncate(col.snapshot(region.BucketCKSTopics), s.cfg.TopKCKS),
		BNFSummaries:   truncate(col.snapshot(region.BucketBNFSummaries), s.cfg.TopKBNF),
		PubMedArticles: truncate(col.snapshot(region.BucketPubMedArticles), s.cfg.TopKPubMed),
		Warnings:       col.warnings,
	}

	slog.Debug("Regional search complete",
		"region", regionCfg.RegionName,
		"guidelines", len(rs.Guidelines),
		"cks_topics", len(rs.CKSTopics),
		"bnf_summaries", len(rs.BNFSummaries),
		"pubmed_articles", len(rs.PubMedArticles),
		"warnings", len(rs.Warnings))
	return rs, nil
}

func (s *Service) runBatch(ctx context.Context, searches []region.SearchConfig, scenario string, col *collector) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sc := range searches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return batchAbort(sc.ToolName, err)
			}
			payload, err := s.caller.Call(gctx, sc.ToolName, buildParams(sc, scenario))
			if err != nil {
				if gctx.Err() != nil {
					return batchAbort(sc.ToolName, gctx.Err())
				}
				col.warnf("search %s failed: %v", sc.ToolName, err)
				slog.Warn("Regional search failed", "tool", sc.ToolName, "error", err)
				return nil
			}
			hits, err := parseHits(payload, sc)
			if err != nil {
				col.warnf("search %s returned malformed results: %v", sc.ToolName, err)
				slog.Warn("Regional search payload malformed", "tool", sc.ToolName, "error", err)
				return nil
			}
			col.add(sc, hits)
			return nil
		})
	}
	return g.Wait()
}

// batchAbort maps a context error onto the fleet taxonomy so cancellation
// and deadline expiry abort the whole batch instead of degrading to
// warnings.
func batchAbort(tool string, err error) error {
	if err == context.DeadlineExceeded {
		return fmt.Errorf("search %s: %w", tool, fleet.ErrTimeout)
	}
	return fmt.Errorf("search %s: %w", tool, fleet.ErrCancelled)
}

func buildParams(cfg region.SearchConfig, scenario string) map[string]any {
	params := make(map[string]any, len(cfg.ToolParams))
	for key, value := range cfg.ToolParams {
		params[key] = strings.ReplaceAll(value, "{scenario}", scenario)
	}
	return params
}

func truncate(hits []Hit, k int) []Hit {
	if k > 0 && len(hits) > k {
		return hits[:k]
	}
	return hits
}
