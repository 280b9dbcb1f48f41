package services

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"reverie/internal/models"
)

// toneRule is one typed classification rule: a pattern voting a weight
// toward a label. The rule table is the whole algorithm; keeping rules
// ordered and typed makes the classifier auditable rule-by-rule.
type toneRule struct {
	pattern *regexp.Regexp
	weight  float64
	label   string
}

const (
	// toneConfidencePerWeight converts an accumulated rule weight
	// into a confidence in [0,1].
	toneConfidencePerWeight = 0.30
	// toneTieEpsilon is the confidence gap under which the top two
	// labels are considered tied and the result resolves to casual.
	toneTieEpsilon = 0.05
	// toneDefaultConfidence is reported when no rule matches.
	toneDefaultConfidence = 0.5
	// toneSecondaryFloor is the minimum confidence for a label to be
	// reported as secondary.
	toneSecondaryFloor = 0.30
)

// ToneService classifies message text into an emotional tone label
// with a confidence and an independent energy level. Pure and
// synchronous: no store or network access.
type ToneService struct {
	rules     []toneRule
	lowEnergy *regexp.Regexp
	epsilon   float64
}

// NewToneService builds the classifier with its fixed rule table.
func NewToneService() *ToneService {
	return &ToneService{
		epsilon: toneTieEpsilon,
		rules: []toneRule{
			// Sadness: negative-affect vocabulary and loss language.
			{regexp.MustCompile(`(?i)\b(sad|unhappy|depressed|miserable|heartbroken|lonely|crying|cried)\b`), 1.0, models.ToneSad},
			{regexp.MustCompile(`(?i)\b(lost|loss|grief|mourning|devastated)\b`), 1.0, models.ToneSad},
			{regexp.MustCompile(`(?i)\bfeel(ing)? (awful|terrible|horrible|empty|down)\b`), 1.0, models.ToneSad},
			{regexp.MustCompile(`(?i)\bmiss (him|her|them|you|it)\b`), 1.0, models.ToneSad},

			// Anxiety: worry markers and livelihood shocks.
			{regexp.MustCompile(`(?i)\b(anxious|nervous|worried|worrying|scared|afraid|stressed|panicking|panic|overwhelmed)\b`), 1.0, models.ToneAnxious},
			{regexp.MustCompile(`(?i)\b(what if|freaking out|on edge|can'?t stop thinking)\b`), 1.0, models.ToneAnxious},
			{regexp.MustCompile(`(?i)\b(lost my job|got fired|laid off)\b`), 1.5, models.ToneAnxious},

			// Anger.
			{regexp.MustCompile(`(?i)\b(angry|furious|mad|pissed|annoyed|irritated|fed up|sick of)\b`), 1.0, models.ToneAngry},
			{regexp.MustCompile(`(?i)\b(hate|can'?t stand)\b`), 1.0, models.ToneAngry},
			{regexp.MustCompile(`(?i)\b(wtf|dammit|damn it)\b`), 1.0, models.ToneAngry},

			// Happiness.
			{regexp.MustCompile(`(?i)\b(happy|glad|wonderful|fantastic|awesome|amazing|delighted|joyful)\b`), 1.0, models.ToneHappy},
			{regexp.MustCompile(`(?i)\b(made my day|feeling good|so good)\b`), 1.0, models.ToneHappy},
			{regexp.MustCompile(`(?i)(:\)|:-\)|:D)`), 1.0, models.ToneHappy},

			// Excitement: enthusiasm markers and stacked exclamation.
			{regexp.MustCompile(`(?i)\b(excited|thrilled|stoked|pumped|hyped|can'?t wait)\b`), 1.5, models.ToneExcited},
			{regexp.MustCompile(`(?i)\b(omg|woohoo|yay|let'?s go)\b`), 1.0, models.ToneExcited},
			{regexp.MustCompile(`!{2,}`), 1.0, models.ToneExcited},

			// Sarcasm: explicit marker and ironic exaggeration.
			{regexp.MustCompile(`(?i)/s\s*$`), 2.0, models.ToneSarcastic},
			{regexp.MustCompile(`(?i)\b(oh (great|wonderful|fantastic|perfect)|yeah right|as if|how original|just what i needed)\b`), 1.5, models.ToneSarcastic},
			{regexp.MustCompile(`(?i)\b(sure, sure|thanks a lot for nothing)\b`), 1.0, models.ToneSarcastic},
		},
		lowEnergy: regexp.MustCompile(`(?i)\b(tired|exhausted|meh|whatever|sigh|ugh|drained|sleepy|worn out)\b`),
	}
}

// Detect classifies one message. Deterministic: identical input always
// yields an identical result.
func (t *ToneService) Detect(text string) models.ToneResult {
	scores := map[string]float64{}
	for _, r := range t.rules {
		if r.pattern.MatchString(text) {
			scores[r.label] += r.weight
		}
	}

	energy := t.detectEnergy(text)

	if len(scores) == 0 {
		return models.ToneResult{
			Primary:    models.ToneCasual,
			Confidence: toneDefaultConfidence,
			Energy:     energy,
		}
	}

	ranked := rankScores(scores)
	primary := ranked[0]
	confidence := weightToConfidence(scores[primary])

	// Ambiguity tie-break: two labels within epsilon resolve to
	// casual at the lower confidence rather than overcommitting.
	if len(ranked) > 1 {
		second := weightToConfidence(scores[ranked[1]])
		if confidence-second <= t.epsilon {
			return models.ToneResult{
				Primary:    models.ToneCasual,
				Confidence: second,
				Energy:     energy,
				Secondary:  secondaryLabels(ranked, scores, ""),
			}
		}
	}

	return models.ToneResult{
		Primary:    primary,
		Confidence: confidence,
		Energy:     energy,
		Secondary:  secondaryLabels(ranked, scores, primary),
	}
}

// detectEnergy derives the energy level from exclamation and caps
// density, orthogonal to the primary label.
func (t *ToneService) detectEnergy(text string) string {
	exclaims := strings.Count(text, "!")

	letters, uppers := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				uppers++
			}
		}
	}
	capsRatio := 0.0
	if letters >= 8 {
		capsRatio = float64(uppers) / float64(letters)
	}

	switch {
	case exclaims >= 2 || capsRatio > 0.30 || (len(text) > 200 && exclaims >= 1):
		return models.EnergyHigh
	case exclaims == 0 && t.lowEnergy.MatchString(text):
		return models.EnergyLow
	default:
		return models.EnergyMedium
	}
}

func weightToConfidence(weight float64) float64 {
	c := weight * toneConfidencePerWeight
	if c > 1.0 {
		return 1.0
	}
	return c
}

// rankScores orders labels by descending score, breaking exact ties
// alphabetically so ranking is deterministic.
func rankScores(scores map[string]float64) []string {
	labels := make([]string, 0, len(scores))
	for l := range scores {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if scores[labels[i]] != scores[labels[j]] {
			return scores[labels[i]] > scores[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return labels
}

// secondaryLabels returns every non-primary label at or above the
// secondary confidence floor, strongest first.
func secondaryLabels(ranked []string, scores map[string]float64, primary string) []string {
	var out []string
	for _, l := range ranked {
		if l == primary {
			continue
		}
		if weightToConfidence(scores[l]) >= toneSecondaryFloor {
			out = append(out, l)
		}
	}
	return out
}
