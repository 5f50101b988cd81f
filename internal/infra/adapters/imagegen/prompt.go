package imagegen

import (
	"hash/fnv"
	"strings"

	"practice-pipeline/internal/domain/model"
)

var basePrompts = map[model.Mode][]string{
	model.ModePPDT: {
		"A dramatic scene showing leadership and decision-making in a challenging situation",
		"People working together to solve a complex problem in a professional setting",
		"A moment of crisis that requires quick thinking and moral judgment",
		"A group of individuals collaborating on an important project",
	},
	model.ModeTAT: {
		"An emotional moment between people showing deep human connection",
		"A person facing a difficult choice with serious consequences",
		"A scene of achievement and celebration after overcoming obstacles",
		"A quiet moment of reflection and personal growth",
	},
}

func seedOf(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum32()
}

// BuildPrompt turns an image job into a text-to-image prompt. An explicit
// prompt wins, then a theme, then a mode prompt picked deterministically
// from the payload.
func BuildPrompt(p model.ImagePayload) string {
	if s := strings.TrimSpace(p.Prompt); s != "" {
		return s
	}
	if theme := strings.TrimSpace(p.Theme); theme != "" {
		return "High-quality photograph: " + theme + ". Professional lighting, clear composition, realistic details."
	}
	mode := p.Mode
	if !mode.Valid() {
		mode = model.ModeTAT
		if p.SeedImageID != "" {
			mode = model.ModePPDT
		}
	}
	prompts := basePrompts[mode]
	pick := prompts[seedOf(string(mode), p.SeedImageID, p.RequestedBy)%uint32(len(prompts))]
	return "High-quality photograph: " + pick + ". Professional lighting, clear composition, realistic details, 4K resolution."
}

// ModeFor is the mode recorded on the generated image.
func ModeFor(p model.ImagePayload) model.Mode {
	if p.Mode.Valid() {
		return p.Mode
	}
	return model.ModePPDT
}
