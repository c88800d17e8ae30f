// Package mentions models per-engine answer observations for a brand and
// folds the observations for one question into a single aggregate.
package mentions

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidInput is returned when there is nothing to aggregate.
var ErrInvalidInput = errors.New("mentions: at least one engine result is required")

// Bucket is a coarse ranking of how prominently a brand appeared in an answer.
type Bucket string

const (
	TopAnswer Bucket = "top_answer"
	Mentioned Bucket = "mentioned"
	Cited     Bucket = "cited"
	NotFound  Bucket = "not_found"
)

// bucketPriority is the tie-break order. It is only ever compared, never
// summed or scaled.
var bucketPriority = map[Bucket]int{
	TopAnswer: 3,
	Mentioned: 2,
	Cited:     1,
	NotFound:  0,
}

// Priority returns the bucket's rank; unknown buckets rank with NotFound.
func (b Bucket) Priority() int {
	return bucketPriority[b]
}

// ParseBucket validates a persisted or user-supplied bucket name.
func ParseBucket(s string) (Bucket, error) {
	b := Bucket(s)
	if _, ok := bucketPriority[b]; !ok {
		return NotFound, fmt.Errorf("unknown bucket %q", s)
	}
	return b, nil
}

func (b *Bucket) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBucket(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

type Sentiment string

const (
	Positive Sentiment = "positive"
	Neutral  Sentiment = "neutral"
	Negative Sentiment = "negative"
)

// EngineResult is one observation of one engine answering one question.
// A failed engine call still yields a result: Error is set and the result
// counts as a not-mentioned, lowest-bucket observation.
type EngineResult struct {
	Engine               string    `json:"engine"`
	IsMentioned          bool      `json:"is_mentioned"`
	Bucket               Bucket    `json:"bucket"`
	Sentiment            Sentiment `json:"sentiment"`
	CompetitorsMentioned []string  `json:"competitors_mentioned,omitempty"`
	RawResponse          string    `json:"raw_response,omitempty"`
	Error                string    `json:"error,omitempty"`
}

// QueryAggregate summarizes every engine's result for one question. It is
// derived data and is rebuilt whenever the underlying results change.
type QueryAggregate struct {
	QueryText      string       `json:"query_text"`
	AnyMentioned   bool         `json:"any_mentioned"`
	BestResult     EngineResult `json:"best_result"`
	AllCompetitors []string     `json:"all_competitors"`
}

// Aggregate folds the results for one question. results must be in engine
// invocation order: among equal buckets the first result wins, so building the
// slice in network-arrival order would make the choice nondeterministic.
// Competitor names are unioned by exact string, in first-seen order.
func Aggregate(query string, results []EngineResult) (QueryAggregate, error) {
	if len(results) == 0 {
		return QueryAggregate{}, ErrInvalidInput
	}

	agg := QueryAggregate{
		QueryText:      query,
		BestResult:     observed(results[0]),
		AllCompetitors: []string{},
	}
	seen := make(map[string]struct{})

	for _, r := range results {
		r = observed(r)
		if r.IsMentioned {
			agg.AnyMentioned = true
		}
		if r.Bucket.Priority() > agg.BestResult.Bucket.Priority() {
			agg.BestResult = r
		}
		for _, c := range r.CompetitorsMentioned {
			if _, exists := seen[c]; exists {
				continue
			}
			seen[c] = struct{}{}
			agg.AllCompetitors = append(agg.AllCompetitors, c)
		}
	}

	return agg, nil
}

// observed treats a failed engine call as a not-mentioned NotFound result,
// whatever bucket it carries.
func observed(r EngineResult) EngineResult {
	if r.Error == "" {
		return r
	}
	r.IsMentioned = false
	r.Bucket = NotFound
	return r
}
