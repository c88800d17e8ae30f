package engines

import (
	"context"
	"sync"
	"time"

	"github.com/visiscope/visiscope/pkg/mentions"
	"github.com/visiscope/visiscope/pkg/metrics"
)

// Check asks one engine one question and classifies the answer. It never
// fails: an engine error becomes a not-mentioned NotFound result with Error
// set.
func Check(ctx context.Context, e Engine, q Query) mentions.EngineResult {
	start := time.Now()
	answer, err := e.Ask(ctx, q.Question)
	metrics.EngineCheckDuration.WithLabelValues(e.Name()).Observe(time.Since(start).Seconds())

	var res mentions.EngineResult
	if err != nil {
		res = mentions.EngineResult{
			Engine:    e.Name(),
			Bucket:    mentions.NotFound,
			Sentiment: mentions.Neutral,
			Error:     err.Error(),
		}
	} else {
		res = Classify(e.Name(), answer, q)
	}
	metrics.EngineChecksTotal.WithLabelValues(e.Name(), string(res.Bucket)).Inc()
	return res
}

// CheckAll asks every engine concurrently. Results are indexed by engine
// position, not completion order, so aggregation tie-breaks stay stable.
func CheckAll(ctx context.Context, engines []Engine, q Query) []mentions.EngineResult {
	results := make([]mentions.EngineResult, len(engines))

	var wg sync.WaitGroup
	for i, e := range engines {
		wg.Add(1)
		go func(i int, e Engine) {
			defer wg.Done()
			results[i] = Check(ctx, e, q)
		}(i, e)
	}
	wg.Wait()

	return results
}
