package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/visiscope/visiscope/pkg/probe"
	"github.com/visiscope/visiscope/pkg/quickscore"
	"github.com/visiscope/visiscope/pkg/storage"
	"github.com/visiscope/visiscope/pkg/visibility"
)

type staticFetcher struct{}

func (staticFetcher) Fetch(ctx context.Context, rawURL string) probe.FetchResult {
	if strings.HasSuffix(rawURL, "/robots.txt") {
		return probe.FetchResult{OK: true, StatusCode: 200, Body: "User-agent: ChatGPT-User\nDisallow: /\n"}
	}
	return probe.FetchResult{StatusCode: 404}
}

func newTestServer(t *testing.T, user, pass string) (*Server, http.Handler) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "server.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s := New(db, probe.NewWithFetcher(staticFetcher{}, nil), user, pass)
	return s, s.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRobotsEndpoint(t *testing.T) {
	_, h := newTestServer(t, "", "")
	rec := do(t, h, http.MethodPost, "/api/robots", "User-agent: GPTBot\nDisallow: /\n")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"blocks_ai_agents":true}` {
		t.Fatalf("body = %s", got)
	}
}

func TestQuickScoreEndpoint(t *testing.T) {
	_, h := newTestServer(t, "", "")

	tests := []struct {
		body         string
		score        int
		undetermined bool
	}{
		{`{"robots_ok":true,"sitemap_ok":true,"schema_ok":true,"llms_txt_ok":true,"canonical_ok":true}`, 100, false},
		{`{"robots_ok":true,"sitemap_ok":true,"schema_ok":true,"llms_txt_ok":true,"canonical_ok":true,"bot_blocked":true}`, -1, true},
		{`{"robots_ok":true,"blocks_ai_agents":true,"sitemap_ok":true,"schema_ok":true}`, 40, false},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPost, "/api/quickscore", tt.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp struct {
			Score        int  `json:"score"`
			Undetermined bool `json:"undetermined"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		if resp.Score != tt.score || resp.Undetermined != tt.undetermined {
			t.Fatalf("%s -> %+v", tt.body, resp)
		}
	}
}

func TestAggregateEndpoint(t *testing.T) {
	_, h := newTestServer(t, "", "")

	rec := do(t, h, http.MethodPost, "/api/aggregate", `{"query":"q","results":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty results status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/aggregate", `{"query":"q","results":[{"engine":"a","bucket":"bogus"}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown bucket status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/aggregate", `{"query":"q","results":[
		{"engine":"a","bucket":"not_found","competitors_mentioned":["X"]},
		{"engine":"b","bucket":"cited","is_mentioned":true,"competitors_mentioned":["Y","X"]}
	]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var agg struct {
		AnyMentioned   bool     `json:"any_mentioned"`
		AllCompetitors []string `json:"all_competitors"`
		BestResult     struct {
			Engine string `json:"engine"`
		} `json:"best_result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &agg); err != nil {
		t.Fatal(err)
	}
	if !agg.AnyMentioned || agg.BestResult.Engine != "b" || strings.Join(agg.AllCompetitors, ",") != "X,Y" {
		t.Fatalf("aggregate = %+v", agg)
	}
}

func TestVisibilityEndpoint(t *testing.T) {
	_, h := newTestServer(t, "", "")

	rec := do(t, h, http.MethodPost, "/api/visibility", `{"on_site":{"answer_box_score":11}}`)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "answer_box_score") {
		t.Fatalf("out-of-range: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/visibility", `{
		"on_site":{"robots_ok":true,"sitemap_ok":true,"schema_present":true,"answer_box_score":10},
		"off_site":{"entity_consistency_score":10,"reputation_score":10,"canonical_sources_present":true},
		"aggregates":[{"query_text":"q","any_mentioned":true,"best_result":{"engine":"a","bucket":"mentioned"}}]
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp VisibilityResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	want := visibility.Score{OnSite: 50, OffSite: 50, Total: 100, ShareOfVoice: 100}
	if resp.Score != want || resp.TotalPercent != 100 {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestScanAndLeadEndpoints(t *testing.T) {
	s, h := newTestServer(t, "", "")

	rec := do(t, h, http.MethodPost, "/api/scan", `{"site":"https://www.acme.com/"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("scan status = %d: %s", rec.Code, rec.Body.String())
	}
	var lead storage.Lead
	if err := json.Unmarshal(rec.Body.Bytes(), &lead); err != nil {
		t.Fatal(err)
	}
	if lead.Domain != "acme.com" || !lead.Signals.BlocksAIAgents || lead.Score != quickscore.Scored(0) {
		t.Fatalf("lead = %+v", lead)
	}

	rec = do(t, h, http.MethodGet, "/api/leads", "")
	var leads []storage.Lead
	if err := json.Unmarshal(rec.Body.Bytes(), &leads); err != nil {
		t.Fatal(err)
	}
	if len(leads) != 1 {
		t.Fatalf("leads = %+v", leads)
	}

	if rec = do(t, h, http.MethodGet, "/api/leads?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
	if rec = do(t, h, http.MethodGet, "/api/leads/acme.com", ""); rec.Code != http.StatusOK {
		t.Fatalf("get lead status = %d", rec.Code)
	}
	if rec = do(t, h, http.MethodDelete, "/api/leads/acme.com", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec = do(t, h, http.MethodGet, "/api/leads/acme.com", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted lead status = %d", rec.Code)
	}
	if rec = do(t, h, http.MethodGet, "/api/audits/12", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing audit status = %d", rec.Code)
	}

	s.Prober = nil
	if rec = do(t, h, http.MethodPost, "/api/scan", `{"site":"acme.com"}`); rec.Code != http.StatusNotImplemented {
		t.Fatalf("scan without prober status = %d", rec.Code)
	}
}

func TestAuditsLimit(t *testing.T) {
	_, h := newTestServer(t, "", "")

	tests := []struct {
		query string
		want  int
	}{
		{"", http.StatusOK},
		{"?limit=5", http.StatusOK},
		{"?limit=x", http.StatusBadRequest},
		{"?limit=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if rec := do(t, h, http.MethodGet, "/api/audits"+tt.query, ""); rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
		})
	}
}

func TestBasicAuth(t *testing.T) {
	_, h := newTestServer(t, "admin", "secret")

	if rec := do(t, h, http.MethodGet, "/api/stats", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "visiscope_http_requests_total") {
		t.Fatalf("metrics status = %d", rec.Code)
	}
}
