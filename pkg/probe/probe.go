// Package probe gathers the raw observations behind a quick scan: it fetches
// a site's robots.txt, sitemap, llms.txt and homepage and reduces them to
// quickscore signals.
//
// Probe failures never fail a scan. A probe that errors or times out simply
// leaves its signal false.
package probe

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/visiscope/visiscope/pkg/metrics"
	"github.com/visiscope/visiscope/pkg/quickscore"
	"github.com/visiscope/visiscope/pkg/robots"
	"github.com/visiscope/visiscope/pkg/visibility"
	"github.com/visiscope/visiscope/pkg/whttp"
)

const (
	DefaultBatchSize = 10

	pathRobots  = "/robots.txt"
	pathSitemap = "/sitemap.xml"
	pathLLMs    = "/llms.txt"
	pathHome    = "/"
)

// FetchResult is the fetch collaborator's answer for one probed URL.
type FetchResult struct {
	URL         string
	OK          bool // 2xx
	StatusCode  int
	ContentType string
	Body        string
	Title       string
	Err         error
}

// Fetcher retrieves a single URL. Implementations report failures in
// FetchResult.Err rather than returning an error.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchResult
}

// Logger abstracts logging so callers can plug in logrus or anything with the
// same methods.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Options configures New.
type Options struct {
	Timeout   time.Duration // per probe
	Retries   int
	Proxy     string
	UserAgent string
	Log       Logger // optional; nil = no logging
}

// Prober runs quick scans. It is safe for concurrent use.
type Prober struct {
	fetcher Fetcher
	log     Logger
}

// New builds a Prober backed by a retrying HTTP client.
func New(opts Options) (*Prober, error) {
	client, err := whttp.NewClient(whttp.ClientOptions{
		Timeout:  opts.Timeout,
		RetryMax: opts.Retries,
		Proxy:    opts.Proxy,
	})
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = whttp.DefaultTimeout
	}
	return NewWithFetcher(&httpFetcher{client: client, timeout: timeout, userAgent: opts.UserAgent}, opts.Log), nil
}

// NewWithFetcher builds a Prober around any Fetcher.
func NewWithFetcher(f Fetcher, log Logger) *Prober {
	if log == nil {
		log = nopLogger{}
	}
	return &Prober{fetcher: f, log: log}
}

type httpFetcher struct {
	client    *retryablehttp.Client
	timeout   time.Duration
	userAgent string
}

func (f *httpFetcher) Fetch(ctx context.Context, rawURL string) FetchResult {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req := &whttp.WHTTPReq{Method: "GET", URL: rawURL}
	if f.userAgent != "" {
		req.Headers = append(req.Headers, whttp.WHTTPHeader{Name: "User-Agent", Value: f.userAgent})
	}

	res, err := whttp.SendHTTPRequest(ctx, req, f.client)
	if err != nil {
		return FetchResult{URL: rawURL, Err: err}
	}
	return FetchResult{
		URL:         rawURL,
		OK:          res.StatusCode >= 200 && res.StatusCode < 300,
		StatusCode:  res.StatusCode,
		ContentType: res.ContentType,
		Body:        res.BodyString,
		Title:       res.HTTPTitle,
	}
}

// Result is one scan attempt on one site.
type Result struct {
	Site        string             `json:"site"`
	Title       string             `json:"title,omitempty"`
	Signals     quickscore.Signals `json:"signals"`
	Score       quickscore.Score   `json:"score"`
	SchemaTypes []string           `json:"schema_types,omitempty"`
	Canonical   string             `json:"canonical,omitempty"`
	// Errors maps a probed path to its failure, for display only.
	Errors    map[string]string `json:"errors,omitempty"`
	ScannedAt time.Time         `json:"scanned_at"`
}

// BaseURL turns "example.com", "https://example.com/about" and friends into
// the site root used for probing.
func BaseURL(site string) (string, error) {
	site = strings.TrimSpace(site)
	if site == "" {
		return "", fmt.Errorf("empty site")
	}
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	u, err := url.Parse(site)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("no host in %q", site)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.Scheme + "://" + strings.ToLower(u.Host), nil
}

// Scan probes one site. The four probes run concurrently, each bounded by the
// fetcher's own timeout.
func (p *Prober) Scan(ctx context.Context, site string) Result {
	result := Result{Site: site, ScannedAt: time.Now().UTC(), Errors: map[string]string{}}

	base, err := BaseURL(site)
	if err != nil {
		result.Errors["site"] = err.Error()
		p.log.Warnf("[probe] skipping %q: %v", site, err)
		result.Score = quickscore.Undetermined()
		return result
	}
	result.Site = base

	paths := []string{pathRobots, pathSitemap, pathLLMs, pathHome}
	fetched := make([]FetchResult, len(paths))

	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			fetched[i] = p.probe(ctx, base, path)
		}(i, path)
	}
	wg.Wait()

	for i, f := range fetched {
		if f.Err != nil {
			result.Errors[paths[i]] = f.Err.Error()
		}
	}
	robotsRes, sitemapRes, llmsRes, homeRes := fetched[0], fetched[1], fetched[2], fetched[3]

	s := &result.Signals
	if robotsRes.OK && strings.TrimSpace(robotsRes.Body) != "" {
		s.RobotsOK = true
		s.BlocksAIAgents = robots.Analyze(robotsRes.Body).BlocksAIAgents
	}
	s.SitemapOK = isSitemap(sitemapRes) || (s.RobotsOK && declaresSitemap(robotsRes.Body))
	s.LLMsTxtOK = isLLMsTxt(llmsRes)
	s.BotBlocked = isBotBlocked(homeRes)

	if homeRes.OK {
		page := analyzeHomepage(homeRes.Body)
		result.Title = homeRes.Title
		result.SchemaTypes = page.SchemaTypes
		result.Canonical = page.Canonical
		s.SchemaOK = len(page.SchemaTypes) > 0
		s.CanonicalOK = page.Canonical != ""
	}

	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	result.Score = quickscore.Calculate(result.Signals)
	p.log.Debugf("[probe] %s scored %s (missing: %s)", base, result.Score, strings.Join(result.Signals.Missing(), ", "))
	metrics.QuickScores.WithLabelValues(result.Score.String()).Inc()
	return result
}

// ScanMany scans sites in fixed-size batches: batches run one after another,
// the sites inside a batch run concurrently. Results keep the input order.
func (p *Prober) ScanMany(ctx context.Context, sites []string, batchSize int) []Result {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	results := make([]Result, len(sites))
	scanned := make([]bool, len(sites))

	for start := 0; start < len(sites); start += batchSize {
		if ctx.Err() != nil {
			break
		}
		end := start + batchSize
		if end > len(sites) {
			end = len(sites)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = p.Scan(ctx, sites[i])
				scanned[i] = true
			}(i)
		}
		wg.Wait()
	}

	// Sites never reached because ctx ended still get a placeholder entry.
	// Nothing was observed, so the score is undetermined rather than 0.
	for i := range results {
		if !scanned[i] {
			results[i] = Result{
				Site:   sites[i],
				Score:  quickscore.Undetermined(),
				Errors: map[string]string{"site": "scan cancelled"},
			}
		}
	}
	return results
}

// OnSite derives the technical half of visibility.OnSiteSignals from a scan.
// The 0–10 content scores come from a semantic analyzer or manual entry and
// are left at zero.
func OnSite(r Result) visibility.OnSiteSignals {
	return visibility.OnSiteSignals{
		RobotsOK:      r.Signals.RobotsOK && !r.Signals.BlocksAIAgents,
		SitemapOK:     r.Signals.SitemapOK,
		SchemaPresent: len(r.SchemaTypes) > 0,
	}
}

func (p *Prober) probe(ctx context.Context, base, path string) FetchResult {
	start := time.Now()
	res := p.fetcher.Fetch(ctx, base+path)

	outcome := "ok"
	switch {
	case res.Err != nil:
		outcome = "error"
		p.log.Debugf("[probe] %s%s failed: %v", base, path, res.Err)
	case !res.OK:
		outcome = "miss"
		p.log.Debugf("[probe] %s%s returned HTTP %d", base, path, res.StatusCode)
	}
	metrics.ProbesTotal.WithLabelValues(path, outcome).Inc()
	metrics.ProbeDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	return res
}

func isSitemap(r FetchResult) bool {
	if !r.OK {
		return false
	}
	body := strings.ToLower(r.Body)
	return strings.Contains(body, "<urlset") || strings.Contains(body, "<sitemapindex")
}

func declaresSitemap(robotsBody string) bool {
	for _, line := range strings.Split(robotsBody, "\n") {
		line = strings.ToLower(strings.TrimSpace(line))
		if strings.HasPrefix(line, "sitemap:") && strings.TrimSpace(strings.TrimPrefix(line, "sitemap:")) != "" {
			return true
		}
	}
	return false
}

// isLLMsTxt rejects soft-404 pages that answer every path with HTML.
func isLLMsTxt(r FetchResult) bool {
	if !r.OK {
		return false
	}
	body := strings.TrimSpace(r.Body)
	if body == "" {
		return false
	}
	if strings.Contains(strings.ToLower(r.ContentType), "html") {
		return false
	}
	lower := strings.ToLower(body)
	return !strings.HasPrefix(lower, "<!doctype") && !strings.HasPrefix(lower, "<html")
}

func isBotBlocked(home FetchResult) bool {
	return home.Err == nil && (home.StatusCode == 403 || home.StatusCode == 503)
}
