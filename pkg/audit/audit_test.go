package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/visiscope/visiscope/pkg/engines"
	"github.com/visiscope/visiscope/pkg/mentions"
	"github.com/visiscope/visiscope/pkg/probe"
	"github.com/visiscope/visiscope/pkg/visibility"
)

// scriptedEngine answers from a question -> answer table.
type scriptedEngine struct {
	name    string
	answers map[string]string
	err     error
}

func (s scriptedEngine) Name() string { return s.name }

func (s scriptedEngine) Ask(ctx context.Context, question string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.answers[question], nil
}

type siteFetcher struct{}

func (siteFetcher) Fetch(ctx context.Context, rawURL string) probe.FetchResult {
	switch {
	case strings.HasSuffix(rawURL, "/robots.txt"):
		return probe.FetchResult{OK: true, StatusCode: 200, Body: "User-agent: *\nAllow: /\n"}
	case strings.HasSuffix(rawURL, "/sitemap.xml"):
		return probe.FetchResult{OK: true, StatusCode: 200, Body: "<urlset></urlset>"}
	default:
		return probe.FetchResult{StatusCode: 404}
	}
}

func TestRunComputesScore(t *testing.T) {
	questions := []string{"best crm?", "cheapest crm?", "crm for agencies?", "crm with api?"}
	gpt := scriptedEngine{name: "gpt", answers: map[string]string{
		"best crm?":         "Acme is the best CRM. Globex is fine too.",
		"cheapest crm?":     "Globex is cheapest.",
		"crm for agencies?": "Options:\n1. Initech\n2. Acme",
		"crm with api?":     "Most CRMs have one.",
	}}
	down := scriptedEngine{name: "down", err: errors.New("rate limited")}

	var mu sync.Mutex
	var done []string

	report, err := Run(context.Background(), Config{
		Site:        "acme.test",
		Brand:       "Acme",
		Competitors: []string{"Globex", "Initech"},
		Questions:   append([]string{"  "}, questions...),
		Engines:     []engines.Engine{down, gpt},
		Prober:      probe.NewWithFetcher(siteFetcher{}, nil),
		OnSite:      visibility.OnSiteSignals{AnswerBoxScore: 6, RobotsOK: false},
		OffSite:     visibility.OffSiteQualitative{EntityConsistencyScore: 6, ReputationScore: 4, CanonicalSourcesPresent: true},
		Concurrency: 2,
		OnQueryDone: func(q QueryReport) {
			mu.Lock()
			done = append(done, q.QueryText)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Queries) != len(questions) || len(done) != len(questions) {
		t.Fatalf("queries = %d, callbacks = %d", len(report.Queries), len(done))
	}
	for i, q := range report.Queries {
		if q.QueryText != questions[i] {
			t.Fatalf("query %d = %q, want %q", i, q.QueryText, questions[i])
		}
		if len(q.Results) != 2 || q.Results[0].Engine != "down" || q.Results[1].Engine != "gpt" {
			t.Fatalf("results not in engine order: %+v", q.Results)
		}
	}

	if got := report.Queries[0].BestResult.Bucket; got != mentions.TopAnswer {
		t.Fatalf("first query bucket = %s", got)
	}
	if got := report.Queries[2].BestResult.Bucket; got != mentions.Mentioned {
		t.Fatalf("third query bucket = %s", got)
	}
	if report.Queries[1].AnyMentioned || report.Queries[3].AnyMentioned {
		t.Fatalf("unexpected mentions: %+v", report.Queries)
	}

	// Scan: robots + sitemap pass, schema missing.
	if !report.OnSite.RobotsOK || !report.OnSite.SitemapOK || report.OnSite.SchemaPresent {
		t.Fatalf("on-site = %+v", report.OnSite)
	}
	// on-site: 2*25/3 + 6*2.5 = 31.67 -> 32
	// off-site: qualitative 6+4+5 = 15, SoV 50% -> 12.5 -> 13; total 28
	want := visibility.Score{OnSite: 32, OffSite: 28, Total: 60, ShareOfVoice: 50}
	if report.Score != want {
		t.Fatalf("score = %+v, want %+v", report.Score, want)
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	eng := []engines.Engine{scriptedEngine{name: "gpt"}}
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no brand", Config{Engines: eng, Questions: []string{"q"}}, ErrNoBrand},
		{"no engines", Config{Brand: "Acme", Questions: []string{"q"}}, ErrNoEngines},
		{"blank questions", Config{Brand: "Acme", Engines: eng, Questions: []string{" ", ""}}, ErrNoQuestions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Run(context.Background(), tt.cfg); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	_, err := Run(context.Background(), Config{
		Brand:     "Acme",
		Engines:   eng,
		Questions: []string{"q"},
		OffSite:   visibility.OffSiteQualitative{ReputationScore: 11},
	})
	if err == nil || !strings.Contains(err.Error(), "reputation_score") {
		t.Fatalf("expected range error, got %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Config{
		Brand:     "Acme",
		Engines:   []engines.Engine{scriptedEngine{name: "gpt"}},
		Questions: []string{"q"},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
