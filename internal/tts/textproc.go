package tts

import (
	"regexp"
	"strconv"
	"strings"
)

// Directives carry the narration hints parsed out of a slide's note text.
type Directives struct {
	Emotion string
	Speed   float64
	Pitch   float64
}

// DefaultDirectives returns neutral narration settings.
func DefaultDirectives() Directives {
	return Directives{Emotion: "neutral", Speed: 1.0, Pitch: 1.0}
}

var (
	emotionRe    = regexp.MustCompile(`(?i)\[EMOTION:(excited|sad|angry|happy|neutral)\]`)
	speedRe      = regexp.MustCompile(`(?i)\[SPEED:(slow|normal|fast|[\d.]+)\]`)
	pitchRe      = regexp.MustCompile(`(?i)\[PITCH:(low|normal|high|[\d.]+)\]`)
	pauseRe      = regexp.MustCompile(`(?i)\[PAUSE:(\d+)\]`)
	emphasisRe   = regexp.MustCompile(`(?i)\[EMPHASIS:([^\]]+)\]`)
	anyTagRe     = regexp.MustCompile(`\[[^\]]*\]`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	namedSpeeds  = map[string]float64{"slow": 0.7, "normal": 1.0, "fast": 1.3}
	namedPitches = map[string]float64{"low": 0.8, "normal": 1.0, "high": 1.2}
)

// ParseTags extracts narration directives from note text and returns the
// cleaned text to synthesize. Pure and stateless. Malformed or unknown tags
// are stripped rather than failing the slide; preprocessing must never be the
// reason a sub-task fails.
func ParseTags(text string) (string, Directives) {
	d := DefaultDirectives()

	if m := emotionRe.FindStringSubmatch(text); m != nil {
		d.Emotion = strings.ToLower(m[1])
	}
	text = emotionRe.ReplaceAllString(text, "")

	if m := speedRe.FindStringSubmatch(text); m != nil {
		d.Speed = parseScale(m[1], namedSpeeds)
	}
	text = speedRe.ReplaceAllString(text, "")

	if m := pitchRe.FindStringSubmatch(text); m != nil {
		d.Pitch = parseScale(m[1], namedPitches)
	}
	text = pitchRe.ReplaceAllString(text, "")

	// Pause tags become commas so the model inserts a natural break.
	text = pauseRe.ReplaceAllStringFunc(text, func(tag string) string {
		n, _ := strconv.Atoi(pauseRe.FindStringSubmatch(tag)[1])
		return strings.Repeat(",", n)
	})

	// Emphasis tags capitalize the wrapped words.
	text = emphasisRe.ReplaceAllStringFunc(text, func(tag string) string {
		return strings.ToUpper(emphasisRe.FindStringSubmatch(tag)[1])
	})

	// Anything bracket-shaped that survived is unknown or malformed: drop it.
	text = anyTagRe.ReplaceAllString(text, "")

	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " ")), d
}

// parseScale resolves a named or numeric scale value, clamped to [0.5, 2.0].
func parseScale(raw string, named map[string]float64) float64 {
	if v, ok := named[strings.ToLower(raw)]; ok {
		return v
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 1.0
	}
	if v < 0.5 {
		return 0.5
	}
	if v > 2.0 {
		return 2.0
	}
	return v
}
