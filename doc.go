// Package consult provides a region-aware clinical decision support engine.
//
// Consult answers a clinical query by fanning out to a fleet of
// subprocess-backed knowledge servers (NICE, BNF, CKS, FOGSI, PubMed and
// friends, each speaking MCP over stdio), driving an LLM tool-use loop
// against the discovered tool set, and enriching the answer with
// deterministic drug-information lookups.
//
// # Quick Start
//
// Install the engine and the bundled mock knowledge server:
//
//	go install github.com/kadirpekel/consult/cmd/consult@latest
//	go install github.com/kadirpekel/consult/cmd/medsrv@latest
//
// Run a one-shot analysis:
//
//	consult analyze --country GB "3-year-old with croup and stridor"
//
// Start the HTTP service:
//
//	consult serve --config consult.yaml
//
// # Architecture
//
// The engine is composed of small packages, leaves first:
//
//   - pkg/fleet: knowledge-server sessions (spawn, handshake, multiplex,
//     shutdown), the session registry, and the tool router.
//   - pkg/region: country code to region profile selection.
//   - pkg/search: concurrent regional search with deduplication and PubMed
//     fallback, plus the parallel detail fetcher.
//   - pkg/agent: the LLM tool-use driver and terminal JSON extraction.
//   - pkg/enrich: deterministic drug dossier enrichment.
//   - pkg/workflow: the Analyze orchestrator and the legacy
//     guideline-analysis pipeline.
//   - pkg/server: the thin HTTP adapter.
//
// Every blocking call accepts a context; cancellation propagates through all
// fan-out stages and no child process outlives its registry.
//
// # Alpha Status
//
// Consult is currently in alpha development. APIs may change, and some
// features are experimental.
//
// # License
//
// AGPL-3.0 - See LICENSE.md for details.
package consult
