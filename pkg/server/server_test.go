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

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/consult/pkg/clinical"
	"github.com/kadirpekel/consult/pkg/config"
	"github.com/kadirpekel/consult/pkg/fleet"
	"github.com/kadirpekel/consult/pkg/geo"
	"github.com/kadirpekel/consult/pkg/region"
)

type analyzeCall struct {
	scenario    string
	countryCode string
	patientID   string
}

type fakeAnalyzer struct {
	report *clinical.Report
	err    error
	calls  []analyzeCall
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, scenario, countryCode, patientID string) (*clinical.Report, error) {
	f.calls = append(f.calls, analyzeCall{scenario, countryCode, patientID})
	if f.err != nil {
		return nil, f.err
	}
	return f.report, nil
}

func croupReport() *clinical.Report {
	return &clinical.Report{
		Diagnoses: []clinical.Diagnosis{{
			Name:       "Viral Croup",
			Confidence: "high",
			Treatments: []clinical.Treatment{{
				Label:     "First-line corticosteroid",
				DrugNames: []string{"Dexamethasone"},
			}},
		}},
		Summary:  "1 diagnosis identified",
		Warnings: []string{},
	}
}

func newTestServer(t *testing.T, analyzer Analyzer) (*Server, *httptest.Server) {
	t.Helper()
	s := New(config.Default(), analyzer)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func postAnalyze(t *testing.T, ts *httptest.Server, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/analyze", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAnalyzeHappyPath(t *testing.T) {
	fake := &fakeAnalyzer{report: croupReport()}
	_, ts := newTestServer(t, fake)

	resp := postAnalyze(t, ts, `{"scenario":"3-year-old with croup and stridor","country_code":"GB","patient_id":"pt-1"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got analyzeResponse
	decodeInto(t, resp, &got)

	_, err := uuid.Parse(got.ID)
	assert.NoError(t, err, "id should be a uuid, got %q", got.ID)
	assert.Equal(t, "GB", got.CountryCode)
	assert.Equal(t, "GB", got.Region)
	require.Len(t, got.Diagnoses, 1)
	assert.Equal(t, "Viral Croup", got.Diagnoses[0].Name)
	assert.Equal(t, "1 diagnosis identified", got.Summary)
	assert.Empty(t, got.Warnings)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, analyzeCall{"3-year-old with croup and stridor", "GB", "pt-1"}, fake.calls[0])
}

func TestAnalyzeNormalizesCountryInResponse(t *testing.T) {
	fake := &fakeAnalyzer{report: croupReport()}
	_, ts := newTestServer(t, fake)

	resp := postAnalyze(t, ts, `{"scenario":"chest pain","country_code":" us "}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got analyzeResponse
	decodeInto(t, resp, &got)
	assert.Equal(t, "US", got.CountryCode)
	assert.Equal(t, "US", got.Region)

	// The workflow receives the trimmed value as sent; it normalizes itself.
	require.Len(t, fake.calls, 1)
	assert.Equal(t, "us", fake.calls[0].countryCode)
}

func TestAnalyzeUnsupportedCountryReportsInternational(t *testing.T) {
	fake := &fakeAnalyzer{report: croupReport()}
	_, ts := newTestServer(t, fake)

	resp := postAnalyze(t, ts, `{"scenario":"chest pain","country_code":"FR"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got analyzeResponse
	decodeInto(t, resp, &got)
	assert.Equal(t, "FR", got.CountryCode)
	assert.Equal(t, region.International, got.Region)
}

func TestAnalyzeCountryFromGeo(t *testing.T) {
	fake := &fakeAnalyzer{report: croupReport()}
	s, ts := newTestServer(t, fake)
	s.SetGeoResolver(geo.Static{
		"203.0.113.9": {Country: "India", CountryCode: "IN"},
	})

	resp := postAnalyze(t, ts, `{"scenario":"diabetes"}`,
		map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got analyzeResponse
	decodeInto(t, resp, &got)
	assert.Equal(t, "IN", got.CountryCode)
	assert.Equal(t, "IN", got.Region)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "IN", fake.calls[0].countryCode)
}

func TestAnalyzeGeoMissFallsBackToDefault(t *testing.T) {
	fake := &fakeAnalyzer{report: croupReport()}
	s, ts := newTestServer(t, fake)
	s.SetGeoResolver(geo.Static{}) // knows nothing

	resp := postAnalyze(t, ts, `{"scenario":"diabetes"}`,
		map[string]string{"X-Forwarded-For": "203.0.113.9"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "GB", fake.calls[0].countryCode, "should fall back to the configured default")
}

func TestAnalyzeNoResolverUsesDefault(t *testing.T) {
	fake := &fakeAnalyzer{report: croupReport()}
	_, ts := newTestServer(t, fake)

	resp := postAnalyze(t, ts, `{"scenario":"diabetes"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "GB", fake.calls[0].countryCode)
}

func TestAnalyzeExplicitCountrySkipsGeo(t *testing.T) {
	fake := &fakeAnalyzer{report: croupReport()}
	s, ts := newTestServer(t, fake)
	s.SetGeoResolver(geo.Static{
		"203.0.113.9": {Country: "India", CountryCode: "IN"},
	})

	resp := postAnalyze(t, ts, `{"scenario":"diabetes","country_code":"AU"}`,
		map[string]string{"X-Forwarded-For": "203.0.113.9"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "AU", fake.calls[0].countryCode)
}

func TestAnalyzeErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"config", fmt.Errorf("%w: no scenario provided", fleet.ErrConfig), http.StatusServiceUnavailable},
		{"timeout", fmt.Errorf("%w: analysis deadline exceeded", fleet.ErrTimeout), http.StatusGatewayTimeout},
		{"cancelled", fmt.Errorf("%w: analysis cancelled", fleet.ErrCancelled), StatusClientClosedRequest},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAnalyzer{err: tt.err}
			_, ts := newTestServer(t, fake)

			resp := postAnalyze(t, ts, `{"scenario":"anything","country_code":"GB"}`, nil)
			require.Equal(t, tt.wantStatus, resp.StatusCode)

			var got errorResponse
			decodeInto(t, resp, &got)
			assert.NotEmpty(t, got.Error)
			assert.NotEmpty(t, got.ID)
		})
	}
}

func TestAnalyzeBadJSON(t *testing.T) {
	fake := &fakeAnalyzer{report: croupReport()}
	_, ts := newTestServer(t, fake)

	resp := postAnalyze(t, ts, `{"scenario": unquoted}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var got errorResponse
	decodeInto(t, resp, &got)
	assert.Contains(t, got.Error, "invalid request body")
	assert.Empty(t, fake.calls)
}

func TestAnalyzeEmptyReportStillOK(t *testing.T) {
	fake := &fakeAnalyzer{report: &clinical.Report{
		Diagnoses: nil,
		Summary:   "No diagnoses identified",
		Warnings:  []string{"session nice failed: transport failure"},
	}}
	_, ts := newTestServer(t, fake)

	resp := postAnalyze(t, ts, `{"scenario":"diabetes","country_code":"IN"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got analyzeResponse
	decodeInto(t, resp, &got)
	assert.Empty(t, got.Diagnoses)
	require.Len(t, got.Warnings, 1)
	assert.Contains(t, got.Warnings[0], "nice")
}

func TestRegions(t *testing.T) {
	_, ts := newTestServer(t, &fakeAnalyzer{report: croupReport()})

	resp, err := ts.Client().Get(ts.URL + "/api/v1/regions")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got regionsResponse
	decodeInto(t, resp, &got)
	assert.Equal(t, region.Supported(), got.Regions)
	assert.Equal(t, region.International, got.Fallback)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, &fakeAnalyzer{report: croupReport()})

	resp, err := ts.Client().Get(ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]string
	decodeInto(t, resp, &got)
	assert.Equal(t, "ok", got["status"])
	assert.NotEmpty(t, got["version"])
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, &fakeAnalyzer{report: croupReport()})

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestCORSPreflight(t *testing.T) {
	_, ts := newTestServer(t, &fakeAnalyzer{report: croupReport()})

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/analyze", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Less(t, resp.StatusCode, 300)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"socket peer", "203.0.113.9:51234", "", "203.0.113.9"},
		{"peer without port", "203.0.113.9", "", "203.0.113.9"},
		{"single forwarded hop", "10.0.0.1:80", "81.2.69.142", "81.2.69.142"},
		{"first of forwarded chain", "10.0.0.1:80", "81.2.69.142, 10.0.0.2, 10.0.0.3", "81.2.69.142"},
		{"forwarded with spaces", "10.0.0.1:80", "  81.2.69.142 ,10.0.0.2", "81.2.69.142"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, clientIP(r))
		})
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fleet.ErrConfig, http.StatusServiceUnavailable},
		{fmt.Errorf("open fleet: %w", fleet.ErrTimeout), http.StatusGatewayTimeout},
		{fmt.Errorf("wrapped twice: %w", fmt.Errorf("%w: inner", fleet.ErrCancelled)), StatusClientClosedRequest},
		{fleet.ErrUpstream, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForError(tt.err), "err %v", tt.err)
	}
}
