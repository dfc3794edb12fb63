package region

import "strings"

// Weights are the content-score bonuses. Configurable through SCORE_* in the
// environment.
type Weights struct {
	Keyword float64
	Options float64
	Math    float64
}

// DefaultWeights returns the 500/1500/800 weighting.
func DefaultWeights() Weights {
	return Weights{Keyword: 500, Options: 1500, Math: 800}
}

// Score rates how likely el is the question container.
func Score(el Element, w Weights) float64 {
	r := el.Rect()
	var score float64
	if r.Width > 0 && r.Height > 0 && r.Y >= 0 && r.X >= 0 {
		score = r.Width * r.Height
	}

	text := el.Text()
	score += float64(KeywordMatches(text)) * w.Keyword

	// Option labels are upper-case letters, so match before lower-casing.
	if len(optionLabelPattern.FindAllStringIndex(text, -1)) >= 2 {
		score += w.Options
	}
	if mathSymbolPattern.MatchString(text) {
		score += w.Math
	}
	return score
}

// KeywordMatches counts the distinct QuestionKeywords present in text.
func KeywordMatches(text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, kw := range QuestionKeywords {
		if strings.Contains(lower, kw) {
			n++
		}
	}
	return n
}

// Best returns the highest scoring element. Ties keep the earliest element and a
// set where nothing scores above zero yields the first element.
func Best(elements []Element, w Weights) Element {
	if len(elements) == 0 {
		return nil
	}
	best := elements[0]
	var max float64
	for _, el := range elements {
		if s := Score(el, w); s > max {
			max = s
			best = el
		}
	}
	return best
}
