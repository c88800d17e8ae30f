package engines

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/visiscope/visiscope/pkg/mentions"
)

// Query is one question evaluated for one brand.
type Query struct {
	Question    string   `json:"question"`
	Brand       string   `json:"brand"`
	Domain      string   `json:"domain,omitempty"`
	Competitors []string `json:"competitors,omitempty"`
}

var positiveWords = []string{
	"best", "leading", "recommended", "recommend", "excellent", "top", "trusted",
	"popular", "great", "reliable", "innovative", "favorite", "standout",
}

var negativeWords = []string{
	"poor", "bad", "avoid", "worst", "complaints", "overpriced", "unreliable",
	"scam", "lawsuit", "criticized", "outdated", "buggy",
}

// Classify decides how q.Brand shows up in one engine answer:
//
//   - TopAnswer: the brand is named in the answer's first sentence or its
//     first list item.
//   - Mentioned: the brand is named anywhere else.
//   - Cited: only the brand's domain appears (a source link, no name).
//   - NotFound: neither appears.
//
// Competitors are reported with the caller's spelling, in the caller's order.
func Classify(engine, answer string, q Query) mentions.EngineResult {
	res := mentions.EngineResult{
		Engine:      engine,
		Bucket:      mentions.NotFound,
		Sentiment:   mentions.Neutral,
		RawResponse: answer,
	}

	text := strings.ToLower(answer)
	brand := strings.ToLower(strings.TrimSpace(q.Brand))
	domain := bareDomain(q.Domain)

	for _, c := range q.Competitors {
		lc := strings.ToLower(strings.TrimSpace(c))
		if lc == "" || lc == brand {
			continue
		}
		if indexTerm(text, lc) >= 0 {
			res.CompetitorsMentioned = append(res.CompetitorsMentioned, c)
		}
	}

	// "acme" inside "acme.io" is a citation, not a naming.
	named := text
	if domain != "" {
		named = strings.ReplaceAll(text, domain, " ")
	}

	switch {
	case indexTerm(named, brand) >= 0:
		res.IsMentioned = true
		res.Bucket = mentions.Mentioned
		if indexTerm(firstSentence(named), brand) >= 0 || indexTerm(firstListItem(named), brand) >= 0 {
			res.Bucket = mentions.TopAnswer
		}
		res.Sentiment = sentimentAround(text, brand)
	case indexTerm(text, domain) >= 0:
		res.IsMentioned = true
		res.Bucket = mentions.Cited
	}
	return res
}

// bareDomain turns "https://www.Acme.com/about" into "acme.com".
func bareDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}

// indexTerm finds term in text on word boundaries, -1 if absent. An empty
// term never matches.
func indexTerm(text, term string) int {
	if term == "" {
		return -1
	}
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			return -1
		}
		start := offset + i
		end := start + len(term)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return start
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return -1
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	end := len(text)
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.Index(text, sep); i >= 0 && i < end {
			end = i
		}
	}
	return text[:end]
}

// firstListItem returns the first bulleted or numbered line, or "".
func firstListItem(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if isListItem(line) {
			return line
		}
	}
	return ""
}

func isListItem(line string) bool {
	if line == "" {
		return false
	}
	switch line[0] {
	case '-', '*', '+':
		return len(line) > 1 && line[1] == ' '
	}
	if strings.HasPrefix(line, "•") {
		return true
	}
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	return digits > 0 && digits < len(line) && (line[digits] == '.' || line[digits] == ')')
}

// sentimentAround scores the sentences that contain term against two small
// lexicons.
func sentimentAround(text, term string) mentions.Sentiment {
	score := 0
	for _, sentence := range splitSentences(text) {
		if indexTerm(sentence, term) < 0 {
			continue
		}
		for _, w := range positiveWords {
			if indexTerm(sentence, w) >= 0 {
				score++
			}
		}
		for _, w := range negativeWords {
			if indexTerm(sentence, w) >= 0 {
				score--
			}
		}
	}
	switch {
	case score > 0:
		return mentions.Positive
	case score < 0:
		return mentions.Negative
	default:
		return mentions.Neutral
	}
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
}
