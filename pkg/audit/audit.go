// Package audit runs a full visibility audit for one brand: an optional
// technical scan of its site, every question put to every configured engine,
// per-question aggregation and the resulting visibility score.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/visiscope/visiscope/pkg/engines"
	"github.com/visiscope/visiscope/pkg/mentions"
	"github.com/visiscope/visiscope/pkg/metrics"
	"github.com/visiscope/visiscope/pkg/probe"
	"github.com/visiscope/visiscope/pkg/visibility"
)

var (
	ErrNoEngines   = errors.New("audit: no engines configured")
	ErrNoQuestions = errors.New("audit: no questions given")
	ErrNoBrand     = errors.New("audit: brand is required")
)

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// nopLogger silently discards all messages.
type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Config holds everything Run needs for one audit.
type Config struct {
	Site        string
	Brand       string
	Domain      string // defaults to Site
	Competitors []string
	Questions   []string
	Engines     []engines.Engine

	// Prober is optional; nil skips the site scan and OnSite is used as given.
	// Otherwise the scan supplies OnSite's robots/sitemap/schema booleans and
	// OnSite contributes only the 0–10 content scores.
	Prober  *probe.Prober
	OnSite  visibility.OnSiteSignals
	OffSite visibility.OffSiteQualitative

	Concurrency int    // questions in flight; defaults to 3 if <= 0
	Log         Logger // optional; nil = no logging

	// OnQueryDone is called from worker goroutines as each question finishes.
	OnQueryDone func(q QueryReport)
}

// QueryReport is one question's aggregate plus the per-engine observations it
// was derived from, in engine order.
type QueryReport struct {
	mentions.QueryAggregate
	Results []mentions.EngineResult `json:"results"`
}

type Report struct {
	Site       string                        `json:"site"`
	Brand      string                        `json:"brand"`
	Domain     string                        `json:"domain"`
	Scan       *probe.Result                 `json:"scan,omitempty"`
	OnSite     visibility.OnSiteSignals      `json:"on_site"`
	OffSite    visibility.OffSiteQualitative `json:"off_site"`
	Queries    []QueryReport                 `json:"queries"`
	Score      visibility.Score              `json:"score"`
	StartedAt  time.Time                     `json:"started_at"`
	FinishedAt time.Time                     `json:"finished_at"`
}

// Aggregates returns the per-question aggregates in question order.
func (r *Report) Aggregates() []mentions.QueryAggregate {
	out := make([]mentions.QueryAggregate, len(r.Queries))
	for i, q := range r.Queries {
		out[i] = q.QueryAggregate
	}
	return out
}

// Run performs the audit. Engine failures are absorbed into the results;
// Run itself fails only on unusable configuration or a cancelled context.
func Run(ctx context.Context, cfg Config) (*Report, error) {
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}

	questions := cleanQuestions(cfg.Questions)
	switch {
	case strings.TrimSpace(cfg.Brand) == "":
		return nil, ErrNoBrand
	case len(cfg.Engines) == 0:
		return nil, ErrNoEngines
	case len(questions) == 0:
		return nil, ErrNoQuestions
	}
	if err := cfg.OnSite.Validate(); err != nil {
		return nil, fmt.Errorf("on-site signals: %w", err)
	}
	if err := cfg.OffSite.Validate(); err != nil {
		return nil, fmt.Errorf("off-site signals: %w", err)
	}

	domain := cfg.Domain
	if domain == "" {
		domain = cfg.Site
	}

	report := &Report{
		Site:      cfg.Site,
		Brand:     strings.TrimSpace(cfg.Brand),
		Domain:    domain,
		OnSite:    cfg.OnSite,
		OffSite:   cfg.OffSite,
		StartedAt: time.Now().UTC(),
	}

	if cfg.Prober != nil && cfg.Site != "" {
		log.Infof("Scanning %s...", cfg.Site)
		scan := cfg.Prober.Scan(ctx, cfg.Site)
		report.Scan = &scan

		tech := probe.OnSite(scan)
		report.OnSite.RobotsOK = tech.RobotsOK
		report.OnSite.SitemapOK = tech.SitemapOK
		report.OnSite.SchemaPresent = tech.SchemaPresent
	}

	base := engines.Query{Brand: report.Brand, Domain: domain, Competitors: cfg.Competitors}
	log.Infof("Asking %d questions across %d engines for %s", len(questions), len(cfg.Engines), report.Brand)
	report.Queries = runQueries(ctx, cfg.Engines, base, questions, concurrency, log, cfg.OnQueryDone)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report.Score = visibility.Compute(report.OnSite, report.OffSite, report.Aggregates())
	report.FinishedAt = time.Now().UTC()
	metrics.VisibilityTotals.Observe(float64(report.Score.Total))

	log.Infof("%s: on-site %d/%d, off-site %d/%d, total %d/%d (share of voice %d%%)",
		report.Brand,
		report.Score.OnSite, visibility.HalfMax,
		report.Score.OffSite, visibility.HalfMax,
		report.Score.Total, visibility.Max,
		report.Score.ShareOfVoice)

	return report, nil
}

// runQueries checks questions with a worker pool. Reports are stored by
// question index, so output order matches input order.
func runQueries(
	ctx context.Context,
	engs []engines.Engine,
	base engines.Query,
	questions []string,
	concurrency int,
	log Logger,
	onDone func(QueryReport),
) []QueryReport {
	reports := make([]QueryReport, len(questions))
	idxChan := make(chan int, len(questions))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range idxChan {
				q := base
				q.Question = questions[idx]

				results := engines.CheckAll(ctx, engs, q)
				for _, r := range results {
					if r.Error != "" {
						log.Warnf("[%s] %q: %s", r.Engine, q.Question, r.Error)
					}
				}

				// engs is non-empty, so Aggregate always has input.
				agg, err := mentions.Aggregate(q.Question, results)
				if err != nil {
					log.Errorf("Could not aggregate %q: %v", q.Question, err)
					agg = mentions.QueryAggregate{QueryText: q.Question}
				}
				log.Debugf("%q: best %s from %s", q.Question, agg.BestResult.Bucket, agg.BestResult.Engine)

				reports[idx] = QueryReport{QueryAggregate: agg, Results: results}
				if onDone != nil {
					onDone(reports[idx])
				}
			}
		}()
	}

	for i := range questions {
		idxChan <- i
	}
	close(idxChan)
	wg.Wait()

	return reports
}

func cleanQuestions(in []string) []string {
	var out []string
	for _, q := range in {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}
