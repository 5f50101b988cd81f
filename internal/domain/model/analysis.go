package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	MinScore = 0
	MaxScore = 100
	MinTrait = 1
	MaxTrait = 10

	FallbackModel = "fallback"
)

type PersonalityTraits struct {
	Leadership            int `json:"leadership"`
	Creativity            int `json:"creativity"`
	AnalyticalThinking    int `json:"analytical_thinking"`
	EmotionalIntelligence int `json:"emotional_intelligence"`
	Communication         int `json:"communication"`
}

// All returns trait values keyed by their JSON names.
func (p PersonalityTraits) All() map[string]int {
	return map[string]int{
		"leadership":             p.Leadership,
		"creativity":             p.Creativity,
		"analytical_thinking":    p.AnalyticalThinking,
		"emotional_intelligence": p.EmotionalIntelligence,
		"communication":          p.Communication,
	}
}

type AnalysisMetadata struct {
	Model         string    `json:"model"`
	PromptVersion string    `json:"prompt_version"`
	Timestamp     time.Time `json:"timestamp"`
}

// Analysis is the structured feedback persisted as feedback_json.
type Analysis struct {
	ScoreOverall      int               `json:"score_overall"`
	Strengths         []string          `json:"strengths"`
	Weaknesses        []string          `json:"weaknesses"`
	PersonalityTraits PersonalityTraits `json:"personality_traits"`
	SuggestedRewrite  string            `json:"suggested_rewrite"`
	Explanation       string            `json:"explanation"`
	Metadata          AnalysisMetadata  `json:"metadata"`
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp forces every numeric field into its valid range.
func (a *Analysis) Clamp() {
	a.ScoreOverall = clampInt(a.ScoreOverall, MinScore, MaxScore)
	t := &a.PersonalityTraits
	t.Leadership = clampInt(t.Leadership, MinTrait, MaxTrait)
	t.Creativity = clampInt(t.Creativity, MinTrait, MaxTrait)
	t.AnalyticalThinking = clampInt(t.AnalyticalThinking, MinTrait, MaxTrait)
	t.EmotionalIntelligence = clampInt(t.EmotionalIntelligence, MinTrait, MaxTrait)
	t.Communication = clampInt(t.Communication, MinTrait, MaxTrait)
	if a.Strengths == nil {
		a.Strengths = []string{}
	}
	if a.Weaknesses == nil {
		a.Weaknesses = []string{}
	}
}

// Validate checks the ranges a persisted analysis must satisfy.
func (a Analysis) Validate() error {
	if a.ScoreOverall < MinScore || a.ScoreOverall > MaxScore {
		return fmt.Errorf("score_overall %d out of range", a.ScoreOverall)
	}
	for name, v := range a.PersonalityTraits.All() {
		if v < MinTrait || v > MaxTrait {
			return fmt.Errorf("trait %s=%d out of range", name, v)
		}
	}
	if strings.TrimSpace(a.Metadata.Model) == "" {
		return errors.New("metadata.model is empty")
	}
	return nil
}

// IsFallback reports whether the analysis is the degraded placeholder.
func (a Analysis) IsFallback() bool { return a.Metadata.Model == FallbackModel }

// FallbackAnalysis is the deterministic feedback stored when evaluation is
// unavailable, so the user never waits on a silent stall.
func FallbackAnalysis(promptVersion string, now time.Time) Analysis {
	return Analysis{
		ScoreOverall: 50,
		Strengths:    []string{"Response submitted successfully"},
		Weaknesses:   []string{"Analysis temporarily unavailable"},
		PersonalityTraits: PersonalityTraits{
			Leadership:            5,
			Creativity:            5,
			AnalyticalThinking:    5,
			EmotionalIntelligence: 5,
			Communication:         5,
		},
		SuggestedRewrite: "Please try again later for detailed feedback.",
		Explanation:      "AI analysis service is temporarily unavailable.",
		Metadata: AnalysisMetadata{
			Model:         FallbackModel,
			PromptVersion: promptVersion,
			Timestamp:     now.UTC(),
		},
	}
}

// rawAnalysis accepts fractional numbers from models that ignore the
// integer instruction.
type rawAnalysis struct {
	ScoreOverall      *float64           `json:"score_overall"`
	Strengths         []string           `json:"strengths"`
	Weaknesses        []string           `json:"weaknesses"`
	PersonalityTraits map[string]float64 `json:"personality_traits"`
	SuggestedRewrite  string             `json:"suggested_rewrite"`
	Explanation       string             `json:"explanation"`
}

// roundInt saturates at the int32 range; converting an out-of-range float
// to int is implementation defined.
func roundInt(f float64) int {
	switch {
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int(math.Round(f))
}

// ParseAnalysis decodes an evaluator reply, tolerating markdown code fences and
// prose around the JSON object. Values are not clamped here.
func ParseAnalysis(content string) (Analysis, error) {
	payload := sanitizeJSONPayload(content)
	if payload == "" {
		return Analysis{}, errors.New("empty evaluation payload")
	}
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return Analysis{}, fmt.Errorf("decode evaluation: %w (payload snippet: %s)", err, snippet(payload))
	}
	if raw.ScoreOverall == nil {
		return Analysis{}, errors.New("decode evaluation: score_overall missing")
	}
	a := Analysis{
		ScoreOverall:     roundInt(*raw.ScoreOverall),
		Strengths:        raw.Strengths,
		Weaknesses:       raw.Weaknesses,
		SuggestedRewrite: strings.TrimSpace(raw.SuggestedRewrite),
		Explanation:      strings.TrimSpace(raw.Explanation),
	}
	// Missing traits decode as 0 and end up at the lower bound after Clamp.
	t := raw.PersonalityTraits
	a.PersonalityTraits = PersonalityTraits{
		Leadership:            roundInt(t["leadership"]),
		Creativity:            roundInt(t["creativity"]),
		AnalyticalThinking:    roundInt(t["analytical_thinking"]),
		EmotionalIntelligence: roundInt(t["emotional_intelligence"]),
		Communication:         roundInt(t["communication"]),
	}
	return a, nil
}

// sanitizeJSONPayload keeps the outermost object, dropping prose on either side.
func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return strings.TrimSpace(trimmed[start : end+1])
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func snippet(s string) string {
	clean := strings.Join(strings.Fields(s), " ")
	const limit = 160
	if r := []rune(clean); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return clean
}
