package storage

import (
	"time"

	"github.com/visiscope/visiscope/pkg/quickscore"
	"github.com/visiscope/visiscope/pkg/visibility"
)

// Lead is the latest quick scan of one prospect domain. Each scan replaces
// the previous one whole.
type Lead struct {
	ID          int64              `json:"id"`
	Domain      string             `json:"domain"`
	Site        string             `json:"site"`
	Title       string             `json:"title,omitempty"`
	Signals     quickscore.Signals `json:"signals"`
	Score       quickscore.Score   `json:"quick_score"`
	Missing     []string           `json:"missing"`
	Errors      map[string]string  `json:"errors,omitempty"`
	FirstSeenAt time.Time          `json:"first_seen_at"`
	ScannedAt   time.Time          `json:"scanned_at"`
}

// AuditRecord is a persisted audit without its per-question detail.
type AuditRecord struct {
	ID         int64                         `json:"id"`
	Site       string                        `json:"site,omitempty"`
	Domain     string                        `json:"domain"`
	Brand      string                        `json:"brand"`
	Score      visibility.Score              `json:"score"`
	OnSite     visibility.OnSiteSignals      `json:"on_site"`
	OffSite    visibility.OffSiteQualitative `json:"off_site"`
	QueryCount int                           `json:"query_count"`
	CreatedAt  time.Time                     `json:"created_at"`
}

type Stats struct {
	Leads             int     `json:"leads"`
	UndeterminedLeads int     `json:"undetermined_leads"`
	HotLeads          int     `json:"hot_leads"`
	AverageQuickScore float64 `json:"average_quick_score"`
	Audits            int     `json:"audits"`
	AverageVisibility float64 `json:"average_visibility"`
}

// HotLeadMaxScore is the highest determined quick score still counted as a
// hot lead: at most two of the five signals pass.
const HotLeadMaxScore = 2 * quickscore.PointsPerSignal
