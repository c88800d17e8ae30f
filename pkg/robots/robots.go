// Package robots decides whether a robots.txt body keeps AI answer-engine
// crawlers out of a site.
//
// This is a narrow single-pass line scanner, not a robots.txt parser. Each
// "User-agent:" line starts a new block on its own, so user-agent lines that
// share one set of directives are not merged the way RFC 9309 groups are. An
// AI agent line is honored only when its Disallow lines follow it directly.
//
// A "#" starts a comment anywhere on a line, and the rest of that line is
// ignored, so "Disallow: # nothing" has an empty path.
package robots

import (
	"strings"
)

// aiAgentTokens are matched case-insensitively against User-agent values.
var aiAgentTokens = []string{"gptbot", "chatgpt"}

// Verdict is the analyzer's output.
type Verdict struct {
	BlocksAIAgents bool `json:"blocks_ai_agents"`
}

// Analyze never fails: empty or unreadable input yields a non-blocking verdict.
func Analyze(text string) Verdict {
	var (
		inAIBlock       bool
		inWildcardBlock bool
		wildcardRoot    bool
		hasAllow        bool
	)

	for _, raw := range strings.Split(text, "\n") {
		field, value, ok := directive(raw)
		if !ok {
			continue
		}

		switch field {
		case "user-agent":
			inAIBlock = isAIAgent(value)
			inWildcardBlock = value == "*"
		case "disallow":
			if inAIBlock && value != "" {
				return Verdict{BlocksAIAgents: true}
			}
			if inWildcardBlock && value == "/" {
				wildcardRoot = true
			}
		case "allow":
			hasAllow = true
		}
	}

	return Verdict{BlocksAIAgents: wildcardRoot && !hasAllow}
}

// directive splits "Field: value" into a lowercased field and a trimmed value.
func directive(line string) (field, value string, ok bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	i := strings.IndexByte(line, ':')
	if i <= 0 {
		return "", "", false
	}
	field = strings.ToLower(strings.TrimSpace(line[:i]))
	value = strings.TrimSpace(line[i+1:])
	return field, value, true
}

func isAIAgent(value string) bool {
	v := strings.ToLower(value)
	for _, token := range aiAgentTokens {
		if strings.Contains(v, token) {
			return true
		}
	}
	return false
}
