package skills

import (
	"sort"
	"strings"

	"github.com/vaultbrain/vaultbrain/internal/provider"
)

const (
	// matchThreshold is the minimum score that triggers injection.
	matchThreshold = 0.3
	// maxSkillsPerTurn bounds how many skills one turn may inject.
	maxSkillsPerTurn = 3
	// contextWindow is how many recent messages feed the match.
	contextWindow = 3
)

// categoryWeights boost or dampen categories by how often they are useful.
var categoryWeights = map[string]float64{
	"workflow":     1.2,
	"analysis":     1.1,
	"productivity": 1.1,
	"knowledge":    1.0,
	"creation":     1.0,
	"integration":  0.9,
	"training":     0.8,
}

// Match is a skill selected for injection.
type Match struct {
	Skill Skill
	Score float64
}

// Matcher scores skills against conversation context.
type Matcher struct {
	skills []Skill
}

// NewMatcher creates a matcher over the given skill metadata.
func NewMatcher(skills []Skill) *Matcher {
	return &Matcher{skills: skills}
}

// Match returns up to maxSkillsPerTurn skills whose score clears the
// threshold, best first. Skills already injected this session are skipped.
func (m *Matcher) Match(messages []provider.Message, alreadyInjected []string) []Match {
	injected := make(map[string]bool, len(alreadyInjected))
	for _, id := range alreadyInjected {
		injected[id] = true
	}

	recent := messages
	if len(recent) > contextWindow {
		recent = recent[len(recent)-contextWindow:]
	}
	var parts []string
	for _, msg := range recent {
		if msg.Content != "" {
			parts = append(parts, msg.Content)
		}
	}
	context := strings.ToLower(strings.Join(parts, " "))
	if context == "" {
		return nil
	}

	var matches []Match
	for _, s := range m.skills {
		if injected[s.ID] {
			continue
		}
		if score := scoreSkill(s, context); score >= matchThreshold {
			matches = append(matches, Match{Skill: s, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > maxSkillsPerTurn {
		matches = matches[:maxSkillsPerTurn]
	}
	return matches
}

// scoreSkill computes a relevance score in [0, 1].
func scoreSkill(s Skill, context string) float64 {
	score := 0.0

	// Keyword hits are the primary signal.
	for _, kw := range triggerKeywords(s) {
		if kw != "" && strings.Contains(context, kw) {
			score += 0.15
		}
	}

	// One when_to_use phrase hit.
	for _, phrase := range whenPhrases(s.WhenToUse) {
		if strings.Contains(context, phrase) {
			score += 0.25
			break
		}
	}

	weight, ok := categoryWeights[strings.ToLower(s.Category)]
	if !ok {
		weight = 0.7
	}
	score *= weight

	for _, tag := range s.Tags {
		if tag != "" && strings.Contains(context, strings.ToLower(tag)) {
			score += 0.1
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// triggerKeywords merges explicit keywords with tags.
func triggerKeywords(s Skill) []string {
	out := make([]string, 0, len(s.Keywords)+len(s.Tags))
	for _, kw := range s.Keywords {
		out = append(out, strings.ToLower(kw))
	}
	for _, tag := range s.Tags {
		out = append(out, strings.ToLower(tag))
	}
	return out
}

// whenPhrases pulls "when X" and "for X" phrases out of when_to_use text.
func whenPhrases(whenToUse string) []string {
	text := strings.ToLower(whenToUse)
	var out []string
	for _, marker := range []string{"when ", "for "} {
		rest := text
		for {
			idx := strings.Index(rest, marker)
			if idx < 0 {
				break
			}
			phrase := rest[idx+len(marker):]
			if end := strings.IndexAny(phrase, ",."); end >= 0 {
				phrase = phrase[:end]
			}
			phrase = strings.TrimSpace(phrase)
			if phrase != "" {
				out = append(out, phrase)
			}
			rest = rest[idx+len(marker):]
		}
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}
