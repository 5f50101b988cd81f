package ai

import (
	"strings"

	"practice-pipeline/internal/domain/ports/adapter"
)

// PromptVersion is recorded in every analysis' metadata.
const PromptVersion = "1.0"

const systemInstruction = "You are an expert SSB evaluator. Provide only valid JSON responses."

const analysisPrompt = `You are an expert SSB (Services Selection Board) evaluator analyzing practice responses for PPDT/TAT tests.

Analyze the following response and provide structured feedback:

**Context:**
- Test Type: {mode}
- Stimulus Image: {stimulus}
- User Response: {response}
- OCR Text (if available): {ocr}

**Evaluation Criteria:**
1. **Story Structure**: Logical flow, beginning-middle-end
2. **Character Development**: Well-defined protagonist with clear motivations
3. **Conflict Resolution**: How problems are identified and solved
4. **Leadership Qualities**: Initiative, decision-making, responsibility
5. **Creativity**: Original thinking, innovative solutions
6. **Communication**: Clarity, coherence, language skills
7. **Values & Ethics**: Moral judgment, social responsibility

**Sample Good Response:**
"A young officer notices a group of children playing near a construction site. Concerned for their safety, he immediately takes action by cordoning off the area and speaking to the construction supervisor. He then organizes a community meeting to discuss child safety and proposes building a playground in a safer location. The story shows leadership, problem-solving, and social responsibility."

**Sample Poor Response:**
"The man is walking. He sees something. He goes home. The end."
(This lacks structure, character development, and meaningful content)

**Your Analysis:**
Provide a JSON response with the following structure:
{
  "score_overall": 85,
  "strengths": ["Clear leadership demonstrated", "Good problem-solving approach"],
  "weaknesses": ["Could develop characters more", "Ending feels rushed"],
  "personality_traits": {
    "leadership": 8,
    "creativity": 7,
    "analytical_thinking": 6,
    "emotional_intelligence": 8,
    "communication": 7
  },
  "suggested_rewrite": "A more detailed version with better character development...",
  "explanation": "This response shows strong leadership qualities but needs improvement in..."
}

Score ranges: 0-100 (0-40: Poor, 41-60: Below Average, 61-75: Average, 76-85: Good, 86-95: Very Good, 96-100: Excellent)
Personality traits: 1-10 scale (1-3: Low, 4-6: Average, 7-8: Good, 9-10: Excellent)

Respond only with valid JSON.`

func orText(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// BuildPrompt renders the evaluation prompt for req.
func BuildPrompt(req adapter.EvaluationRequest) string {
	r := strings.NewReplacer(
		"{mode}", string(req.Mode),
		"{stimulus}", orText(req.StimulusKey, "Unknown image"),
		"{response}", orText(req.StoryText, "No text response"),
		"{ocr}", orText(req.OCRText, "No OCR text available"),
	)
	return r.Replace(analysisPrompt)
}
