package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/visiscope/visiscope/pkg/audit"
	"github.com/visiscope/visiscope/pkg/mentions"
	"github.com/visiscope/visiscope/pkg/probe"
	"github.com/visiscope/visiscope/pkg/quickscore"
	"github.com/visiscope/visiscope/pkg/visibility"
)

var ErrNotFound = errors.New("not found")

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS leads (
  id               INTEGER PRIMARY KEY,
  domain           TEXT NOT NULL UNIQUE,
  site             TEXT NOT NULL,
  title            TEXT,
  quick_score      INTEGER NOT NULL CHECK (quick_score = -1 OR (quick_score BETWEEN 0 AND 100 AND quick_score % 20 = 0)),
  robots_ok        INTEGER NOT NULL CHECK (robots_ok IN (0,1)),
  sitemap_ok       INTEGER NOT NULL CHECK (sitemap_ok IN (0,1)),
  schema_ok        INTEGER NOT NULL CHECK (schema_ok IN (0,1)),
  llms_txt_ok      INTEGER NOT NULL CHECK (llms_txt_ok IN (0,1)),
  canonical_ok     INTEGER NOT NULL CHECK (canonical_ok IN (0,1)),
  blocks_ai_agents INTEGER NOT NULL CHECK (blocks_ai_agents IN (0,1)),
  bot_blocked      INTEGER NOT NULL CHECK (bot_blocked IN (0,1)),
  scan_errors      TEXT,
  first_seen_at    TEXT NOT NULL,
  scanned_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leads_score ON leads(quick_score);
CREATE TABLE IF NOT EXISTS audits (
  id               INTEGER PRIMARY KEY,
  site             TEXT,
  domain           TEXT NOT NULL,
  brand            TEXT NOT NULL,
  on_site          INTEGER NOT NULL CHECK (on_site BETWEEN 0 AND 50),
  off_site         INTEGER NOT NULL CHECK (off_site BETWEEN 0 AND 50),
  total            INTEGER NOT NULL CHECK (total = on_site + off_site),
  share_of_voice   INTEGER NOT NULL CHECK (share_of_voice BETWEEN 0 AND 100),
  on_site_signals  TEXT NOT NULL,
  off_site_signals TEXT NOT NULL,
  created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audits_domain ON audits(domain, created_at);
CREATE TABLE IF NOT EXISTS audit_queries (
  id         INTEGER PRIMARY KEY,
  audit_id   INTEGER NOT NULL REFERENCES audits(id) ON DELETE CASCADE,
  position   INTEGER NOT NULL,
  query_text TEXT NOT NULL,
  results    TEXT NOT NULL,
  UNIQUE(audit_id, position)
);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// LeadFromScan builds the lead row for a scan result.
func LeadFromScan(r probe.Result) (Lead, error) {
	domain, err := NormalizeDomain(r.Site)
	if err != nil {
		return Lead{}, err
	}
	scannedAt := r.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = time.Now().UTC()
	}
	return Lead{
		Domain:    domain,
		Site:      r.Site,
		Title:     r.Title,
		Signals:   r.Signals,
		Score:     quickscore.Calculate(r.Signals),
		Errors:    r.Errors,
		ScannedAt: scannedAt,
	}, nil
}

// UpsertLead stores l, replacing every scan field of an existing lead for the
// same domain. The score is recomputed from the signals so the two can never
// disagree. first_seen_at is kept from the first insert.
func (d *DB) UpsertLead(ctx context.Context, l Lead) error {
	ref := l.Domain
	if ref == "" {
		ref = l.Site
	}
	domain, err := NormalizeDomain(ref)
	if err != nil {
		return fmt.Errorf("lead domain: %w", err)
	}
	site := l.Site
	if site == "" {
		site = domain
	}
	score := quickscore.Calculate(l.Signals)

	var errorsJSON interface{}
	if len(l.Errors) > 0 {
		b, err := json.Marshal(l.Errors)
		if err != nil {
			return err
		}
		errorsJSON = string(b)
	}

	scannedAt := l.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = time.Now()
	}
	s := l.Signals

	_, err = d.sql.ExecContext(ctx, `
INSERT INTO leads(domain, site, title, quick_score, robots_ok, sitemap_ok, schema_ok, llms_txt_ok, canonical_ok, blocks_ai_agents, bot_blocked, scan_errors, first_seen_at, scanned_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(domain) DO UPDATE SET
  site = excluded.site,
  title = excluded.title,
  quick_score = excluded.quick_score,
  robots_ok = excluded.robots_ok,
  sitemap_ok = excluded.sitemap_ok,
  schema_ok = excluded.schema_ok,
  llms_txt_ok = excluded.llms_txt_ok,
  canonical_ok = excluded.canonical_ok,
  blocks_ai_agents = excluded.blocks_ai_agents,
  bot_blocked = excluded.bot_blocked,
  scan_errors = excluded.scan_errors,
  scanned_at = excluded.scanned_at`,
		domain, site, nullIfEmpty(l.Title), score.Int(),
		boolToInt(s.RobotsOK), boolToInt(s.SitemapOK), boolToInt(s.SchemaOK), boolToInt(s.LLMsTxtOK),
		boolToInt(s.CanonicalOK), boolToInt(s.BlocksAIAgents), boolToInt(s.BotBlocked),
		errorsJSON, formatTime(scannedAt), formatTime(scannedAt))
	return err
}

const leadColumns = "id, domain, site, title, quick_score, robots_ok, sitemap_ok, schema_ok, llms_txt_ok, canonical_ok, blocks_ai_agents, bot_blocked, scan_errors, first_seen_at, scanned_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row rowScanner) (Lead, error) {
	var (
		l                    Lead
		title, errs          sql.NullString
		score                int
		robots, sitemap      int
		schema, llms, canon  int
		blocks, botBlocked   int
		firstSeen, scannedAt string
	)
	if err := row.Scan(&l.ID, &l.Domain, &l.Site, &title, &score, &robots, &sitemap, &schema, &llms, &canon, &blocks, &botBlocked, &errs, &firstSeen, &scannedAt); err != nil {
		return Lead{}, err
	}
	l.Title = title.String
	quick, err := quickscore.ScoreFromInt(score)
	if err != nil {
		return Lead{}, fmt.Errorf("lead %s: %w", l.Domain, err)
	}
	l.Score = quick
	l.Signals = quickscore.Signals{
		RobotsOK:       robots == 1,
		SitemapOK:      sitemap == 1,
		SchemaOK:       schema == 1,
		LLMsTxtOK:      llms == 1,
		CanonicalOK:    canon == 1,
		BlocksAIAgents: blocks == 1,
		BotBlocked:     botBlocked == 1,
	}
	l.Missing = l.Signals.Missing()
	if errs.Valid && errs.String != "" {
		if err := json.Unmarshal([]byte(errs.String), &l.Errors); err != nil {
			return Lead{}, fmt.Errorf("lead %s scan errors: %w", l.Domain, err)
		}
	}
	l.FirstSeenAt = parseTime(firstSeen)
	l.ScannedAt = parseTime(scannedAt)
	return l, nil
}

// GetLead looks a lead up by any form of its site or domain.
func (d *DB) GetLead(ctx context.Context, site string) (Lead, error) {
	domain, err := NormalizeDomain(site)
	if err != nil {
		return Lead{}, err
	}
	l, err := scanLead(d.sql.QueryRowContext(ctx, "SELECT "+leadColumns+" FROM leads WHERE domain = ?", domain))
	if errors.Is(err, sql.ErrNoRows) {
		return Lead{}, ErrNotFound
	}
	return l, err
}

// LeadListOptions controls selection when listing leads.
type LeadListOptions struct {
	HotOnly             bool // determined leads scoring at most HotLeadMaxScore
	IncludeUndetermined bool
	Limit               int
}

// ListLeads returns leads in outreach priority: lowest determined quick score
// first, undetermined leads last, ties by domain.
func (d *DB) ListLeads(ctx context.Context, opts LeadListOptions) ([]Lead, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if opts.HotOnly {
		where += " AND quick_score <= ?"
		args = append(args, HotLeadMaxScore)
	}
	if opts.HotOnly || !opts.IncludeUndetermined {
		where += " AND quick_score >= 0"
	}
	q := "SELECT " + leadColumns + " FROM leads " + where + " ORDER BY CASE WHEN quick_score < 0 THEN 1 ELSE 0 END, quick_score, domain"
	if opts.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	leads := []Lead{}
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return leads, nil
}

func (d *DB) DeleteLead(ctx context.Context, site string) error {
	domain, err := NormalizeDomain(site)
	if err != nil {
		return err
	}
	res, err := d.sql.ExecContext(ctx, "DELETE FROM leads WHERE domain = ?", domain)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveAudit stores a report and its per-question engine results in one
// transaction. Aggregates are not stored; they are rebuilt from the results
// on read.
func (d *DB) SaveAudit(ctx context.Context, r *audit.Report) (int64, error) {
	domain, err := NormalizeDomain(r.Domain)
	if err != nil {
		return 0, fmt.Errorf("audit domain: %w", err)
	}
	onJSON, err := json.Marshal(r.OnSite)
	if err != nil {
		return 0, err
	}
	offJSON, err := json.Marshal(r.OffSite)
	if err != nil {
		return 0, err
	}
	createdAt := r.FinishedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT INTO audits(site, domain, brand, on_site, off_site, total, share_of_voice, on_site_signals, off_site_signals, created_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		nullIfEmpty(r.Site), domain, r.Brand, r.Score.OnSite, r.Score.OffSite, r.Score.Total, r.Score.ShareOfVoice, string(onJSON), string(offJSON), formatTime(createdAt))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, q := range r.Queries {
		var results []byte
		results, err = json.Marshal(q.Results)
		if err != nil {
			return 0, err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO audit_queries(audit_id, position, query_text, results) VALUES(?,?,?,?)`, id, i, q.QueryText, string(results)); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

const auditColumns = `a.id, a.site, a.domain, a.brand, a.on_site, a.off_site, a.total, a.share_of_voice, a.on_site_signals, a.off_site_signals, a.created_at,
  (SELECT COUNT(*) FROM audit_queries q WHERE q.audit_id = a.id)`

func scanAudit(row rowScanner) (AuditRecord, error) {
	var (
		a             AuditRecord
		site          sql.NullString
		onJSON, offJS string
		createdAt     string
	)
	if err := row.Scan(&a.ID, &site, &a.Domain, &a.Brand, &a.Score.OnSite, &a.Score.OffSite, &a.Score.Total, &a.Score.ShareOfVoice, &onJSON, &offJS, &createdAt, &a.QueryCount); err != nil {
		return AuditRecord{}, err
	}
	a.Site = site.String
	if err := json.Unmarshal([]byte(onJSON), &a.OnSite); err != nil {
		return AuditRecord{}, fmt.Errorf("audit %d on-site signals: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(offJS), &a.OffSite); err != nil {
		return AuditRecord{}, fmt.Errorf("audit %d off-site signals: %w", a.ID, err)
	}
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

func (d *DB) GetAudit(ctx context.Context, id int64) (AuditRecord, error) {
	a, err := scanAudit(d.sql.QueryRowContext(ctx, "SELECT "+auditColumns+" FROM audits a WHERE a.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return AuditRecord{}, ErrNotFound
	}
	return a, err
}

// ListAudits returns audits newest first, optionally for one domain.
func (d *DB) ListAudits(ctx context.Context, site string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	where := ""
	args := []interface{}{}
	if site != "" {
		domain, err := NormalizeDomain(site)
		if err != nil {
			return nil, err
		}
		where = "WHERE a.domain = ?"
		args = append(args, domain)
	}
	args = append(args, limit)

	rows, err := d.sql.QueryContext(ctx, "SELECT "+auditColumns+" FROM audits a "+where+" ORDER BY a.created_at DESC, a.id DESC LIMIT ?", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	audits := []AuditRecord{}
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return audits, nil
}

// GetAuditQueries returns an audit's questions in their original order, each
// re-aggregated from its stored engine results.
func (d *DB) GetAuditQueries(ctx context.Context, auditID int64) ([]audit.QueryReport, error) {
	if _, err := d.GetAudit(ctx, auditID); err != nil {
		return nil, err
	}

	rows, err := d.sql.QueryContext(ctx, "SELECT query_text, results FROM audit_queries WHERE audit_id = ? ORDER BY position", auditID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	queries := []audit.QueryReport{}
	for rows.Next() {
		var text, resultsJSON string
		if err := rows.Scan(&text, &resultsJSON); err != nil {
			return nil, err
		}
		var results []mentions.EngineResult
		if err := json.Unmarshal([]byte(resultsJSON), &results); err != nil {
			return nil, fmt.Errorf("audit %d query %q: %w", auditID, text, err)
		}
		agg, err := mentions.Aggregate(text, results)
		if err != nil {
			return nil, fmt.Errorf("audit %d query %q: %w", auditID, text, err)
		}
		queries = append(queries, audit.QueryReport{QueryAggregate: agg, Results: results})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return queries, nil
}

// RescoreAudit recomputes an audit's visibility score from its stored
// signals and results. A stored score that disagrees with this is stale.
func (d *DB) RescoreAudit(ctx context.Context, auditID int64) (visibility.Score, error) {
	a, err := d.GetAudit(ctx, auditID)
	if err != nil {
		return visibility.Score{}, err
	}
	queries, err := d.GetAuditQueries(ctx, auditID)
	if err != nil {
		return visibility.Score{}, err
	}
	aggs := make([]mentions.QueryAggregate, len(queries))
	for i, q := range queries {
		aggs[i] = q.QueryAggregate
	}
	return visibility.Compute(a.OnSite, a.OffSite, aggs), nil
}

func (d *DB) GetStats(ctx context.Context) (Stats, error) {
	var (
		s          Stats
		avgQuick   sql.NullFloat64
		avgVisible sql.NullFloat64
	)
	err := d.sql.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN quick_score < 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN quick_score >= 0 AND quick_score <= ? THEN 1 ELSE 0 END), 0),
			AVG(CASE WHEN quick_score >= 0 THEN quick_score END)
		FROM leads`, HotLeadMaxScore).Scan(&s.Leads, &s.UndeterminedLeads, &s.HotLeads, &avgQuick)
	if err != nil {
		return Stats{}, err
	}
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*), AVG(total) FROM audits").Scan(&s.Audits, &avgVisible); err != nil {
		return Stats{}, err
	}
	s.AverageQuickScore = avgQuick.Float64
	s.AverageVisibility = avgVisible.Float64
	return s, nil
}
