// Package quickscore turns the booleans of a quick prospect scan into a
// qualification score.
//
// The scale is inverted relative to the visibility score: a LOWER quick score
// means more missing signals and therefore a hotter outreach lead. A target
// that refused the probe itself cannot be scored at all and yields an
// Undetermined score, which is not the same thing as 0 ("assessed and found
// fully non-compliant").
package quickscore

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// PointsPerSignal is awarded for every passing signal; there is no weighting.
const PointsPerSignal = 20

// UndeterminedValue is how an Undetermined score is persisted and serialized.
const UndeterminedValue = -1

// Signals is the outcome of one scan attempt. A later scan replaces it whole.
type Signals struct {
	RobotsOK       bool `json:"robots_ok"`
	SitemapOK      bool `json:"sitemap_ok"`
	SchemaOK       bool `json:"schema_ok"`
	LLMsTxtOK      bool `json:"llms_txt_ok"`
	CanonicalOK    bool `json:"canonical_ok"`
	BlocksAIAgents bool `json:"blocks_ai_agents"`
	// BotBlocked means the target refused the probing request (e.g. 403/503).
	BotBlocked bool `json:"bot_blocked"`
}

// Missing lists the failing signals by name, in scoring order.
func (s Signals) Missing() []string {
	var out []string
	if !s.RobotsOK {
		out = append(out, "robots.txt")
	} else if s.BlocksAIAgents {
		out = append(out, "robots.txt blocks AI agents")
	}
	if !s.SitemapOK {
		out = append(out, "sitemap")
	}
	if !s.SchemaOK {
		out = append(out, "schema markup")
	}
	if !s.LLMsTxtOK {
		out = append(out, "llms.txt")
	}
	if !s.CanonicalOK {
		out = append(out, "canonical link")
	}
	return out
}

// Score is either Undetermined or Scored(n) with n a multiple of 20 in [0,100].
type Score struct {
	value      int
	determined bool
}

// Undetermined is the outcome for targets that blocked the probe.
func Undetermined() Score { return Score{} }

// Scored wraps an assessed value.
func Scored(n int) Score { return Score{value: n, determined: true} }

// Value returns the score and whether it was determined.
func (s Score) Value() (int, bool) { return s.value, s.determined }

// Determined reports whether the target could be assessed.
func (s Score) Determined() bool { return s.determined }

// Int returns the persisted form, UndeterminedValue for an Undetermined score.
func (s Score) Int() int {
	if !s.determined {
		return UndeterminedValue
	}
	return s.value
}

func (s Score) String() string {
	if !s.determined {
		return "undetermined"
	}
	return strconv.Itoa(s.value)
}

// ErrInvalidScore is returned for integers that no Score can produce.
var ErrInvalidScore = errors.New("quick score must be -1 or a multiple of 20 between 0 and 100")

// ScoreFromInt reverses Int. Only UndeterminedValue and multiples of
// PointsPerSignal in [0,100] are accepted.
func ScoreFromInt(n int) (Score, error) {
	switch {
	case n == UndeterminedValue:
		return Undetermined(), nil
	case n < 0 || n > 5*PointsPerSignal || n%PointsPerSignal != 0:
		return Score{}, fmt.Errorf("%w, got %d", ErrInvalidScore, n)
	}
	return Scored(n), nil
}

func (s Score) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Int())
}

func (s *Score) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quick score: %w", err)
	}
	score, err := ScoreFromInt(n)
	if err != nil {
		return err
	}
	*s = score
	return nil
}

// Calculate scores a scan. A bot-blocked probe short-circuits to Undetermined
// because none of the other signals were observed honestly.
func Calculate(s Signals) Score {
	if s.BotBlocked {
		return Undetermined()
	}

	total := 0
	for _, ok := range []bool{
		s.RobotsOK && !s.BlocksAIAgents,
		s.SitemapOK,
		s.SchemaOK,
		s.LLMsTxtOK,
		s.CanonicalOK,
	} {
		if ok {
			total += PointsPerSignal
		}
	}
	return Scored(total)
}

// Less orders leads by outreach priority: lowest determined score first,
// Undetermined last.
func Less(a, b Score) bool {
	switch {
	case a.determined && b.determined:
		return a.value < b.value
	case a.determined:
		return true
	default:
		return false
	}
}
