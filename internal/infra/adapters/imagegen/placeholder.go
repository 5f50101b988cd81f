package imagegen

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"practice-pipeline/internal/domain/ports/adapter"
)

const (
	PlaceholderWidth  = 800
	PlaceholderHeight = 600
	wrapAt            = 45
)

var _ adapter.ImageGenerator = Placeholder{}

type scenario struct {
	bg, border color.RGBA
	theme      string
}

var scenarios = []scenario{
	{rgb(0xf0, 0xf8, 0xff), rgb(0x41, 0x69, 0xe1), "Military Base"},
	{rgb(0xf5, 0xf5, 0xdc), rgb(0x8b, 0x45, 0x13), "Desert Training"},
	{rgb(0xe6, 0xf3, 0xff), rgb(0x00, 0x66, 0xcc), "Naval Operations"},
	{rgb(0xf0, 0xff, 0xf0), rgb(0x22, 0x8b, 0x22), "Field Exercise"},
	{rgb(0xff, 0xf8, 0xdc), rgb(0xda, 0xa5, 0x20), "Leadership Scenario"},
}

var challenges = []string{
	"Team Leadership Challenge",
	"Decision Making Scenario",
	"Crisis Management Exercise",
	"Communication Test",
	"Physical Endurance Task",
}

func rgb(r, g, b uint8) color.RGBA { return color.RGBA{R: r, G: g, B: b, A: 0xff} }

// Placeholder draws a practice card with the prompt text on it. The same
// prompt always yields the same bytes.
type Placeholder struct{}

func (Placeholder) Name() string { return "placeholder" }

func (Placeholder) Generate(_ context.Context, prompt string) ([]byte, error) {
	return DrawPlaceholder(prompt)
}

func DrawPlaceholder(prompt string) ([]byte, error) {
	seed := seedOf(prompt)
	sc := scenarios[seed%uint32(len(scenarios))]

	img := image.NewRGBA(image.Rect(0, 0, PlaceholderWidth, PlaceholderHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: sc.bg}, image.Point{}, draw.Src)
	strokeRect(img, image.Rect(15, 15, 785, 585), 4, sc.border)
	strokeRect(img, image.Rect(20, 20, 780, 580), 2, sc.border)

	dark := rgb(0x2c, 0x3e, 0x50)
	grey := rgb(0x55, 0x55, 0x55)
	centered(img, 60, "SSB Practice Scenario: "+sc.theme, sc.border)
	centered(img, 90, "AI Generated Test Image", dark)
	centered(img, 160, "Scenario Description:", dark)
	y := 200
	for _, line := range wrap(prompt, wrapAt) {
		if y > 300 {
			break
		}
		centered(img, y, line, grey)
		y += 25
	}
	fill(img, image.Rect(100, 320, 700, 322), sc.border)
	centered(img, 350, challenges[seed%uint32(len(challenges))], sc.border)
	centered(img, 450, "SSB PREP", rgb(0x19, 0x76, 0xd2))
	centered(img, 470, "Services Selection Board Practice", rgb(0x66, 0x66, 0x66))

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// wrap breaks text into lines of at most width characters where possible.
func wrap(text string, width int) []string {
	var lines []string
	cur := ""
	for _, w := range strings.Fields(text) {
		switch {
		case cur == "":
			cur = w
		case len(cur)+1+len(w) > width:
			lines = append(lines, cur)
			cur = w
		default:
			cur += " " + w
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func centered(img draw.Image, y int, text string, c color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.NewUniform(c), Face: face}
	w := d.MeasureString(text).Ceil()
	d.Dot = fixed.P((PlaceholderWidth-w)/2, y)
	d.DrawString(text)
}

func fill(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func strokeRect(img draw.Image, r image.Rectangle, width int, c color.Color) {
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width), c)
	fill(img, image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y), c)
	fill(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y), c)
	fill(img, image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y), c)
}
