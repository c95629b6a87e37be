package history

import (
	"regexp"
	"strings"
)

// Scorer assigns an importance score to a turn. reply is the text of the turn
// that followed it, or "" for the last turn.
type Scorer interface {
	Score(text, reply string) int
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(text, reply string) int

func (f ScorerFunc) Score(text, reply string) int { return f(text, reply) }

const maxScore = 10

var properNoun = regexp.MustCompile(`\b[A-Z][a-z]{2,}\b`)

// signal is a group of phrases that adds weight once if any phrase occurs.
type signal struct {
	weight  int
	phrases []string
}

var keywordSignals = []signal{
	{3, []string{"let's do", "let's go with", "go with", "use this", "decided", "approved", "go ahead"}}, // decision
	{3, []string{"no,", "wrong", "change it", "not what i", "actually", "i meant"}},                      // correction
	{2, []string{"i prefer", "always", "never", "i like", "i don't like", "don't ever"}},                 // preference
	{2, []string{"remind me", "don't forget", "make sure", "todo", "follow up"}},                         // action item
}

// KeywordScorer is the default heuristic: additive phrase signals, proper
// nouns, and questions that drew a substantive answer.
type KeywordScorer struct {
	// ProperNounCap limits how many proper-noun matches count. Zero means 2.
	ProperNounCap int
}

func (s KeywordScorer) Score(text, reply string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, sig := range keywordSignals {
		for _, p := range sig.phrases {
			if strings.Contains(lower, p) {
				score += sig.weight
				break
			}
		}
	}

	limit := s.ProperNounCap
	if limit <= 0 {
		limit = 2
	}
	if n := len(properNoun.FindAllStringIndex(text, limit)); n > 0 {
		score += 2 * n
	}

	if strings.Contains(text, "?") && len(reply) > 50 {
		score++
	}

	if score > maxScore {
		return maxScore
	}
	return score
}
