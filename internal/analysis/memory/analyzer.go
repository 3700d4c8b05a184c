package memory

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"
)

// InsightType classifies what a derived insight says about the user.
type InsightType string

const (
	TypePreference InsightType = "preference"
	TypeStyle      InsightType = "style"
	TypeInterest   InsightType = "interest"
	TypeBehavior   InsightType = "behavior"
)

// Insight is a short derived statement about the user with a confidence
// in [0,1]. Ephemeral until the caller decides to persist it.
type Insight struct {
	Type       InsightType `json:"type"`
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"`
}

// Turn is one conversation message as seen by the analyzer.
type Turn struct {
	Role    string
	Content string
}

const (
	// SurfaceThreshold gates which insights are persisted or returned to
	// clients. The comparison is strictly greater-than, so pattern-derived
	// insights sitting exactly at 0.7 never cross it.
	SurfaceThreshold = 0.7

	// sampleWindow bounds how many trailing turns feed the analysis.
	sampleWindow = 10

	patternConfidence       = 0.7
	styleConfidence         = 0.8
	highConfidence          = 0.8
	suggestEveryNMessages   = 15
	briefStyleMaxAvgLen     = 50
	detailedStyleMinAvgLen  = 200
	topicRepetitionMinCount = 3
)

// triggerPatterns maps lexical triggers in user turns to insight types.
// Order matters: insights are emitted in table order per turn.
var triggerPatterns = []struct {
	re  *regexp.Regexp
	typ InsightType
}{
	{regexp.MustCompile(`(?i)i (prefer|like|love|enjoy|want)`), TypePreference},
	{regexp.MustCompile(`(?i)my favorite`), TypePreference},
	{regexp.MustCompile(`(?i)i always`), TypeBehavior},
	{regexp.MustCompile(`(?i)i usually`), TypeBehavior},
}

// topicKeywords is the fixed interest vocabulary. Matching is by substring
// against lower-cased user turns; slice order keeps emitted insights stable.
var topicKeywords = []string{
	"programming", "coding", "python", "javascript", "react", "design",
	"art", "music", "gaming", "sports", "business", "science", "math",
	"history", "writing", "cooking", "travel", "health", "fitness",
}

// Analyze scans the trailing turns of a conversation for memory insights:
// trigger-pattern preferences/behaviors, a coarse communication-style
// signal, and repeated-topic interests. Duplicates are allowed; callers
// filter by confidence.
func Analyze(turns []Turn) []Insight {
	recent := turns
	if len(recent) > sampleWindow {
		recent = recent[len(recent)-sampleWindow:]
	}

	userMessages := make([]string, 0, len(recent))
	for _, t := range recent {
		if t.Role == "user" {
			userMessages = append(userMessages, strings.ToLower(t.Content))
		}
	}

	var insights []Insight

	for _, msg := range userMessages {
		for _, p := range triggerPatterns {
			loc := p.re.FindStringIndex(msg)
			if loc == nil {
				continue
			}
			statement := msg[loc[1]:]
			if cut := strings.IndexAny(statement, ".!?"); cut >= 0 {
				statement = statement[:cut]
			}
			statement = strings.TrimSpace(statement)
			if n := utf8.RuneCountInString(statement); n > 5 && n < 200 {
				insights = append(insights, Insight{
					Type:       p.typ,
					Text:       statement,
					Confidence: patternConfidence,
				})
			}
		}
	}

	if style, ok := classifyStyle(userMessages); ok {
		insights = append(insights, style)
	}

	for _, keyword := range topicKeywords {
		count := 0
		for _, msg := range userMessages {
			if strings.Contains(msg, keyword) {
				count++
			}
		}
		if count >= topicRepetitionMinCount {
			insights = append(insights, Insight{
				Type:       TypeInterest,
				Text:       "Shows strong interest in " + keyword,
				Confidence: math.Min(0.9, 0.5+float64(count)*0.1),
			})
		}
	}

	return insights
}

// classifyStyle derives a communication-style insight from the mean user
// turn length in characters, not bytes, so multi-byte scripts classify the
// same as ASCII. Zero user turns means no signal, not a division by zero.
func classifyStyle(userMessages []string) (Insight, bool) {
	if len(userMessages) == 0 {
		return Insight{}, false
	}

	total := 0
	for _, msg := range userMessages {
		total += utf8.RuneCountInString(msg)
	}
	avg := float64(total) / float64(len(userMessages))

	switch {
	case avg < briefStyleMaxAvgLen:
		return Insight{
			Type:       TypeStyle,
			Text:       "Prefers brief, concise communication",
			Confidence: styleConfidence,
		}, true
	case avg > detailedStyleMinAvgLen:
		return Insight{
			Type:       TypeStyle,
			Text:       "Prefers detailed, comprehensive responses",
			Confidence: styleConfidence,
		}, true
	default:
		return Insight{}, false
	}
}

// ComposePrompt assembles the system instruction handed to the completion
// provider: persona preamble, effective memory, insight bullets, and the
// fixed behavioral instructions. Deterministic for identical inputs.
func ComposePrompt(globalMemory string, sessionMemory *string, insights []Insight) string {
	memory := effectiveMemory(globalMemory, sessionMemory)

	var b strings.Builder
	b.WriteString("You are Klix, an intelligent AI companion with deep understanding of the user.\n\nUSER MEMORY:\n")
	b.WriteString(memory)
	b.WriteString("\n")

	if len(insights) > 0 {
		b.WriteString("\nRECENT INSIGHTS (learned from conversations):\n")
		for i, ins := range insights {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "- %s (%d%% confidence)", ins.Text, int(math.Round(ins.Confidence*100)))
		}
		b.WriteString("\n")
	}

	b.WriteString(`
INSTRUCTIONS:
1. Use the memory and insights to provide personalized responses
2. Match the user's communication style and preferences
3. Reference past conversations naturally when relevant
4. Adapt your tone and depth based on learned preferences
5. Be proactive in recognizing patterns and user needs
6. After significant conversations, suggest memory updates if you learn something important

Remember: You're not just answering questions, you're being a thoughtful companion who knows and understands this specific person.`)

	return b.String()
}

// effectiveMemory resolves the two-level memory precedence: a non-empty
// session override wins, otherwise the global memory, otherwise empty.
func effectiveMemory(globalMemory string, sessionMemory *string) string {
	if sessionMemory != nil && *sessionMemory != "" {
		return *sessionMemory
	}
	return globalMemory
}

// ShouldSuggestUpdate decides whether the caller should prompt the user to
// commit insights to long-term memory: every 15th message, or whenever the
// latest analysis produced a high-confidence insight.
func ShouldSuggestUpdate(messageCount int, newInsights []Insight) bool {
	for _, ins := range newInsights {
		if ins.Confidence > highConfidence {
			return true
		}
	}
	return messageCount%suggestEveryNMessages == 0
}

// DefaultMaxInputLength bounds raw chat input.
const DefaultMaxInputLength = 2000

// Sanitize trims surrounding whitespace and truncates to max runes.
func Sanitize(input string, max int) string {
	trimmed := strings.TrimSpace(input)
	if utf8.RuneCountInString(trimmed) <= max {
		return trimmed
	}
	return string([]rune(trimmed)[:max])
}

// GenerateTitle derives a session title from its first message.
func GenerateTitle(message string) string {
	cleaned := strings.TrimSpace(message)
	if utf8.RuneCountInString(cleaned) <= 30 {
		return cleaned
	}
	return string([]rune(cleaned)[:30]) + "..."
}
