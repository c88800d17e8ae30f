package probe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/visiscope/visiscope/pkg/quickscore"
)

func newTestProber(t *testing.T) *Prober {
	t.Helper()
	p, err := New(Options{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestScanHealthySite(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nAllow: /\n"))
	})
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"></urlset>`))
	})
	mux.HandleFunc("/llms.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("# Acme\n> Widgets for everyone\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Acme</title>
<link rel="canonical" href="https://acme.test/">
<script type="application/ld+json">{"@context":"https://schema.org","@type":"Organization","name":"Acme"}</script>
</head><body></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := newTestProber(t).Scan(context.Background(), srv.URL)

	want := quickscore.Signals{RobotsOK: true, SitemapOK: true, SchemaOK: true, LLMsTxtOK: true, CanonicalOK: true}
	if res.Signals != want {
		t.Fatalf("signals = %+v, want %+v", res.Signals, want)
	}
	if res.Score != quickscore.Scored(100) {
		t.Fatalf("score = %v", res.Score)
	}
	if res.Title != "Acme" {
		t.Fatalf("title = %q", res.Title)
	}
	if !reflect.DeepEqual(res.SchemaTypes, []string{"Organization"}) {
		t.Fatalf("schema types = %v", res.SchemaTypes)
	}
	if res.Errors != nil {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}

	on := OnSite(res)
	if !on.RobotsOK || !on.SitemapOK || !on.SchemaPresent {
		t.Fatalf("on-site signals = %+v", on)
	}
}

func TestScanBareSite(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: GPTBot\nDisallow: /\nSitemap: https://example.com/sm.xml\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// Soft 404: every path answers 200 with HTML.
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><head><title>Home</title></head><body>hello</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res := newTestProber(t).Scan(context.Background(), srv.URL)

	want := quickscore.Signals{RobotsOK: true, BlocksAIAgents: true, SitemapOK: true}
	if res.Signals != want {
		t.Fatalf("signals = %+v, want %+v", res.Signals, want)
	}
	if res.Score != quickscore.Scored(20) {
		t.Fatalf("score = %v", res.Score)
	}
	if OnSite(res).RobotsOK {
		t.Fatalf("robots that block AI agents must not count as ok on-site")
	}
}

func TestScanBotBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	res := newTestProber(t).Scan(context.Background(), srv.URL)
	if !res.Signals.BotBlocked {
		t.Fatalf("expected bot_blocked")
	}
	if res.Score.Determined() {
		t.Fatalf("score = %v, want undetermined", res.Score)
	}
}

func TestScanUnreachableSite(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := newTestProber(t).Scan(context.Background(), url)
	if res.Signals != (quickscore.Signals{}) {
		t.Fatalf("signals = %+v", res.Signals)
	}
	if res.Score != quickscore.Scored(0) {
		t.Fatalf("score = %v", res.Score)
	}
	if len(res.Errors) != 4 {
		t.Fatalf("expected four probe errors, got %v", res.Errors)
	}
}

func TestScanInvalidSite(t *testing.T) {
	res := newTestProber(t).Scan(context.Background(), "ftp://example.com")
	if _, ok := res.Errors["site"]; !ok {
		t.Fatalf("expected a site error, got %v", res.Errors)
	}
	if res.Score.Determined() {
		t.Fatalf("score = %v, want undetermined for a site that was never probed", res.Score)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"example.com", "https://example.com", false},
		{"  Example.COM/about ", "https://example.com", false},
		{"http://example.com:8080/x?y=1", "http://example.com:8080", false},
		{"", "", true},
		{"ftp://example.com", "", true},
		{"http://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := BaseURL(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("BaseURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

type fakeFetcher struct {
	mu      sync.Mutex
	active  int
	maxSeen int
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) FetchResult {
	f.mu.Lock()
	f.active++
	if f.active > f.maxSeen {
		f.maxSeen = f.active
	}
	f.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	if strings.Contains(rawURL, "down.test") {
		return FetchResult{URL: rawURL, Err: errors.New("connection refused")}
	}
	return FetchResult{URL: rawURL, OK: true, StatusCode: 200, ContentType: "text/plain", Body: "ok"}
}

func TestScanManyPreservesOrderAndBoundsConcurrency(t *testing.T) {
	f := &fakeFetcher{}
	p := NewWithFetcher(f, nil)

	sites := []string{"a.test", "down.test", "c.test", "d.test", "e.test"}
	results := p.ScanMany(context.Background(), sites, 2)

	if len(results) != len(sites) {
		t.Fatalf("got %d results", len(results))
	}
	for i, r := range results {
		want := "https://" + sites[i]
		if r.Site != want {
			t.Fatalf("result %d site = %q, want %q", i, r.Site, want)
		}
	}
	if results[1].Signals.RobotsOK {
		t.Fatalf("failed probe must be a negative signal")
	}
	// Two sites per batch, four probes per site.
	if f.maxSeen > 8 {
		t.Fatalf("saw %d concurrent fetches, want at most 8", f.maxSeen)
	}
}

func TestScanManyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := NewWithFetcher(&fakeFetcher{}, nil).ScanMany(ctx, []string{"a.test", "b.test"}, 1)
	for _, r := range results {
		if r.Errors["site"] != "scan cancelled" {
			t.Fatalf("expected cancelled placeholder, got %+v", r)
		}
		if r.Score.Determined() {
			t.Fatalf("%s: score = %v, want undetermined for a skipped site", r.Site, r.Score)
		}
	}
}

func TestAnalyzeHomepage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		types     []string
		canonical string
	}{
		{
			name: "graph and microdata",
			body: `<html><head>
<script type="application/ld+json">{"@context":"https://schema.org","@graph":[{"@type":"WebSite"},{"@type":["Organization","Brand"]}]}</script>
<link rel="alternate canonical" href=" https://x.test/ ">
</head><body><div itemscope itemtype="https://schema.org/Product"></div></body></html>`,
			types:     []string{"WebSite", "Organization", "Brand", "Product"},
			canonical: "https://x.test/",
		},
		{
			name:  "array of objects",
			body:  `<script type="application/ld+json">[{"@type":"FAQPage"},{"@type":"FAQPage"}]</script>`,
			types: []string{"FAQPage"},
		},
		{
			name: "invalid json-ld and empty canonical",
			body: `<script type="application/ld+json">{not json</script><link rel="canonical" href="">`,
		},
		{
			name: "json-ld without type",
			body: `<script type="application/ld+json">{"@context":"https://schema.org","name":"x"}</script>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := analyzeHomepage(tt.body)
			if !reflect.DeepEqual(page.SchemaTypes, tt.types) {
				t.Fatalf("types = %v, want %v", page.SchemaTypes, tt.types)
			}
			if page.Canonical != tt.canonical {
				t.Fatalf("canonical = %q, want %q", page.Canonical, tt.canonical)
			}
		})
	}
}
