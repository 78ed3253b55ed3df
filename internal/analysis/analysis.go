// Package analysis builds the belief questionnaire and infers limiting
// beliefs from the answers with keyword heuristics.
package analysis

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"beliefcoach.app/cloud/models"
)

const (
	CategoryAbsolute      = "absolute thinking"
	CategorySelfJudgement = "self-judgement"
	CategoryObligation    = "obligation"
	CategoryScarcity      = "scarcity"
	CategoryCatastrophe   = "catastrophising"

	defaultTopic   = "your goals"
	maxEvidenceLen = 200
)

type rule struct {
	category string
	keywords []string
	reframe  string
}

var rules = []rule{
	{
		category: CategorySelfJudgement,
		keywords: []string{"i'm not", "i am not", "not good enough", "i can't", "i cannot", "i'm bad at", "i am bad at", "stupid", "failure", "worthless", "useless"},
		reframe:  "I am still learning, and my worth is not decided by one result.",
	},
	{
		category: CategoryAbsolute,
		keywords: []string{"always", "never", "everyone", "nobody", "no one", "nothing", "everything"},
		reframe:  "Sometimes this happens, and there are times it has gone differently.",
	},
	{
		category: CategoryObligation,
		keywords: []string{"should", "must", "have to", "has to", "supposed to", "ought to"},
		reframe:  "I can choose this because it matters to me, not because I am required to.",
	},
	{
		category: CategoryScarcity,
		keywords: []string{"not enough", "too late", "too old", "no time", "can't afford", "cannot afford", "never enough", "run out"},
		reframe:  "I have some resources right now, and I can start small with them.",
	},
	{
		category: CategoryCatastrophe,
		keywords: []string{"what if", "disaster", "ruin", "terrible", "worst", "fall apart"},
		reframe:  "The worst case is one possibility among many, and I can handle setbacks.",
	},
}

// Questionnaire returns the fixed question set for a topic.
func Questionnaire(topic string) []models.Question {
	topic = NormalizeTopic(topic)
	return []models.Question{
		{ID: "q1", Prompt: fmt.Sprintf("What do you want to change about %s?", topic)},
		{ID: "q2", Prompt: fmt.Sprintf("What has stopped you from making progress on %s so far?", topic), Hint: "Write it the way you would say it to yourself."},
		{ID: "q3", Prompt: "What do you tell yourself when things go wrong?"},
		{ID: "q4", Prompt: fmt.Sprintf("What do you believe other people expect of you about %s?", topic)},
		{ID: "q5", Prompt: "What would have to be true for you to feel ready to start?"},
		{ID: "q6", Prompt: "What is the worst thing that could happen if you tried and failed?"},
	}
}

// Analyze infers limiting beliefs from free-text answers. At most one belief
// is reported per answer and category; the result is deterministic.
func Analyze(topic string, answers []models.Answer) models.Analysis {
	topic = NormalizeTopic(topic)
	result := models.Analysis{Topic: topic, Beliefs: []models.Belief{}, Themes: []string{}}
	counts := make(map[string]int)

	for _, ans := range answers {
		text := strings.TrimSpace(ans.Text)
		if text == "" {
			continue
		}
		result.Analyzed++

		for _, r := range rules {
			sentence, hits := match(text, r.keywords)
			if hits == 0 {
				continue
			}
			counts[r.category]++
			result.Beliefs = append(result.Beliefs, models.Belief{
				Statement:  statement(sentence),
				Category:   r.category,
				Evidence:   truncate(sentence, maxEvidenceLen),
				Confidence: confidence(hits),
				Reframe:    r.reframe,
			})
		}
	}

	sort.SliceStable(result.Beliefs, func(i, j int) bool {
		return result.Beliefs[i].Confidence > result.Beliefs[j].Confidence
	})

	for category := range counts {
		result.Themes = append(result.Themes, category)
	}
	sort.Slice(result.Themes, func(i, j int) bool {
		a, b := result.Themes[i], result.Themes[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return a < b
	})

	result.Summary = summarize(topic, result)
	return result
}

// match returns the first sentence containing any keyword and the total
// keyword hits across the text.
func match(text string, keywords []string) (string, int) {
	var first string
	hits := 0
	for _, sentence := range sentences(text) {
		lower := strings.ToLower(sentence)
		n := 0
		for _, kw := range keywords {
			n += countWord(lower, kw)
		}
		if n > 0 && first == "" {
			first = sentence
		}
		hits += n
	}
	return first, hits
}

// countWord counts occurrences of kw that start and end on word boundaries.
func countWord(s, kw string) int {
	n := 0
	for i := 0; ; {
		idx := strings.Index(s[i:], kw)
		if idx < 0 {
			return n
		}
		start := i + idx
		end := start + len(kw)
		if boundary(s, start-1) && boundary(s, end) {
			n++
		}
		i = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := rune(s[i])
	return !unicode.IsLetter(c) && !unicode.IsDigit(c) && c != '\''
}

func sentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == ';'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func statement(sentence string) string {
	s := strings.TrimSpace(sentence)
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r) + "."
}

func confidence(hits int) float64 {
	c := 0.5 + 0.15*float64(hits-1)
	if c > 0.95 {
		c = 0.95
	}
	return float64(int(c*100+0.5)) / 100
}

func summarize(topic string, a models.Analysis) string {
	switch {
	case a.Analyzed == 0:
		return "No answers to analyze yet."
	case len(a.Beliefs) == 0:
		return fmt.Sprintf("No limiting beliefs stood out in your answers about %s.", topic)
	case len(a.Beliefs) == 1:
		return fmt.Sprintf("Found 1 limiting belief about %s, mostly %s.", topic, a.Themes[0])
	default:
		return fmt.Sprintf("Found %d limiting beliefs about %s. The strongest theme is %s.", len(a.Beliefs), topic, a.Themes[0])
	}
}

// NormalizeTopic collapses whitespace and falls back to a generic topic.
func NormalizeTopic(topic string) string {
	topic = strings.Join(strings.Fields(topic), " ")
	if topic == "" {
		return defaultTopic
	}
	return truncate(topic, 80)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
