// Package visibility computes the headline AI visibility score: an on-site
// half from the audited site's own technical and content signals, and an
// off-site half from qualitative third-party signals plus share of voice in
// AI engine answers.
//
// The scoring functions do not validate their 0–10 inputs; a value outside
// that range skews the sum before clamping. Callers that accept user input
// should run Validate first.
package visibility

import (
	"fmt"
	"math"

	"github.com/visiscope/visiscope/pkg/mentions"
)

const (
	HalfMax = 50
	Max     = 2 * HalfMax

	// Each off-site component is capped independently.
	qualitativeCap       = 25
	shareOfVoiceCap      = 25
	canonicalSourceBonus = 5
)

type OnSiteSignals struct {
	RobotsOK       bool `json:"robots_ok"`
	SitemapOK      bool `json:"sitemap_ok"`
	SchemaPresent  bool `json:"schema_present"`
	AnswerBoxScore int  `json:"answer_box_score"`
	StructureScore int  `json:"structure_score"`
	AuthorityScore int  `json:"authority_score"`
}

// Validate reports the first 0–10 field that is out of range.
func (s OnSiteSignals) Validate() error {
	return checkRanges(
		field{"answer_box_score", s.AnswerBoxScore},
		field{"structure_score", s.StructureScore},
		field{"authority_score", s.AuthorityScore},
	)
}

type OffSiteQualitative struct {
	EntityConsistencyScore  int  `json:"entity_consistency_score"`
	CanonicalSourcesPresent bool `json:"canonical_sources_present"`
	ReputationScore         int  `json:"reputation_score"`
}

// Validate reports the first 0–10 field that is out of range. In-range
// inputs are assumed to be pre-scaled upstream so that the qualitative
// component stays within its cap; the cap is still enforced when scoring.
func (q OffSiteQualitative) Validate() error {
	return checkRanges(
		field{"entity_consistency_score", q.EntityConsistencyScore},
		field{"reputation_score", q.ReputationScore},
	)
}

type field struct {
	name  string
	value int
}

func checkRanges(fields ...field) error {
	for _, f := range fields {
		if f.value < 0 || f.value > 10 {
			return fmt.Errorf("%s must be between 0 and 10, got %d", f.name, f.value)
		}
	}
	return nil
}

// Score holds both halves and their sum. Total always equals OnSite+OffSite.
type Score struct {
	OnSite       int `json:"on_site"`
	OffSite      int `json:"off_site"`
	Total        int `json:"total"`
	ShareOfVoice int `json:"share_of_voice"`
}

// OnSiteScore: the three binary checks share 25 points equally and the
// answer-box score maps 0–10 onto the other 25. Only the final sum is
// rounded, so three passing checks are worth exactly 25.
func OnSiteScore(s OnSiteSignals) int {
	passed := 0
	for _, ok := range []bool{s.RobotsOK, s.SitemapOK, s.SchemaPresent} {
		if ok {
			passed++
		}
	}
	raw := float64(passed)*25/3 + float64(s.AnswerBoxScore)*2.5
	return clamp(round(raw), 0, HalfMax)
}

// ShareOfVoice is the percentage of questions for which at least one engine
// mentioned the brand, 0 when there are no questions.
func ShareOfVoice(aggs []mentions.QueryAggregate) int {
	if len(aggs) == 0 {
		return 0
	}
	mentioned := 0
	for _, a := range aggs {
		if a.AnyMentioned {
			mentioned++
		}
	}
	return round(100 * float64(mentioned) / float64(len(aggs)))
}

// OffSiteScore sums a qualitative component and a share-of-voice component,
// each capped at 25.
//
// An older ratio-only variant (round(mentioned/total*50), no qualitative
// inputs) is not implemented.
func OffSiteScore(q OffSiteQualitative, aggs []mentions.QueryAggregate) int {
	qualitative := q.EntityConsistencyScore + q.ReputationScore
	if q.CanonicalSourcesPresent {
		qualitative += canonicalSourceBonus
	}
	qualitative = clamp(qualitative, 0, qualitativeCap)

	sov := clamp(round(float64(ShareOfVoice(aggs))/100*shareOfVoiceCap), 0, shareOfVoiceCap)

	return clamp(qualitative+sov, 0, HalfMax)
}

// Total clamps each half before summing.
func Total(onSite, offSite int) int {
	return clamp(onSite, 0, HalfMax) + clamp(offSite, 0, HalfMax)
}

// Compute derives the full score from scratch; nothing is carried between calls.
func Compute(on OnSiteSignals, off OffSiteQualitative, aggs []mentions.QueryAggregate) Score {
	onSite := clamp(OnSiteScore(on), 0, HalfMax)
	offSite := clamp(OffSiteScore(off, aggs), 0, HalfMax)
	return Score{
		OnSite:       onSite,
		OffSite:      offSite,
		Total:        Total(onSite, offSite),
		ShareOfVoice: ShareOfVoice(aggs),
	}
}

// Percent renders a half or total as a share of its maximum, for display.
func Percent(value, outOf int) int {
	if outOf <= 0 {
		return 0
	}
	return round(100 * float64(value) / float64(outOf))
}

// round is half-away-from-zero, which matches half-up for the non-negative
// values scored here.
func round(f float64) int {
	return int(math.Round(f))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
