package services

import (
	"regexp"
	"strings"
	"unicode"

	"reverie/internal/models"
)

const extractedValueMaxLen = 60

var (
	namePattern     = regexp.MustCompile(`(?i)\bmy name is\s+([\p{L}][\p{L}'-]{1,29})`)
	imNamePattern   = regexp.MustCompile(`\b[Ii]'?m\s+([A-Z][\p{L}'-]{1,29})\b`)
	interestPattern = regexp.MustCompile(`(?i)\bi (?:love|like|enjoy|adore)\s+([^,.!?;]+)`)
	intoPattern     = regexp.MustCompile(`(?i)\bi'?m (?:really |very |so )?into\s+([^,.!?;]+)`)
	dislikePattern  = regexp.MustCompile(`(?i)\bi (?:hate|dislike|can't stand)\s+([^,.!?;]+)`)
	favoritePattern = regexp.MustCompile(`(?i)\bmy favou?rite\s+([\p{L} ]{2,20}?)\s+is\s+([^,.!?;]+)`)
	workPattern     = regexp.MustCompile(`(?i)\bi work as\s+(?:a |an )?([^,.!?;]+)`)
	livePattern     = regexp.MustCompile(`(?i)\bi live in\s+([^,.!?;]+)`)
)

// notNames are capitalized sentence-start words that an "I'm X"
// pattern would otherwise mistake for a name.
var notNames = map[string]bool{
	"Tired": true, "Happy": true, "Sad": true, "Sorry": true,
	"Good": true, "Fine": true, "Ok": true, "Okay": true,
	"Sure": true, "Here": true, "Back": true, "Done": true,
	"Just": true, "Really": true, "So": true, "Not": true,
	"Still": true, "Very": true, "Angry": true, "Excited": true,
}

// interestBlockwords reject pronoun objects ("i love you") that are
// not interests.
var interestBlockwords = map[string]bool{
	"you": true, "it": true, "that": true, "this": true, "him": true,
	"her": true, "them": true, "me": true, "u": true, "how": true,
	"when": true, "what": true,
}

// ExtractProfileDelta mines a user message for durable profile facts:
// display name, interests, and tagged preferences (favorites,
// dislikes, occupation, location). Conservative by design; a miss
// costs nothing, a wrong fact pollutes the profile.
func ExtractProfileDelta(message string) models.ProfileDelta {
	delta := models.ProfileDelta{}

	if m := namePattern.FindStringSubmatch(message); m != nil {
		delta.DisplayName = capitalize(m[1])
	} else if m := imNamePattern.FindStringSubmatch(message); m != nil && !notNames[m[1]] {
		delta.DisplayName = m[1]
	}

	for _, m := range interestPattern.FindAllStringSubmatch(message, -1) {
		if interest, ok := cleanInterest(m[1]); ok {
			delta.Interests = append(delta.Interests, interest)
		}
	}
	for _, m := range intoPattern.FindAllStringSubmatch(message, -1) {
		if interest, ok := cleanInterest(m[1]); ok {
			delta.Interests = append(delta.Interests, interest)
		}
	}

	prefs := map[string]string{}
	if m := dislikePattern.FindStringSubmatch(message); m != nil {
		if v, ok := cleanValue(m[1]); ok {
			prefs["dislikes"] = v
		}
	}
	if m := favoritePattern.FindStringSubmatch(message); m != nil {
		tag := "favorite_" + strings.ReplaceAll(strings.ToLower(strings.TrimSpace(m[1])), " ", "_")
		if v, ok := cleanValue(m[2]); ok {
			prefs[tag] = v
		}
	}
	if m := workPattern.FindStringSubmatch(message); m != nil {
		if v, ok := cleanValue(m[1]); ok {
			prefs["occupation"] = v
		}
	}
	if m := livePattern.FindStringSubmatch(message); m != nil {
		if v, ok := cleanValue(m[1]); ok {
			prefs["location"] = v
		}
	}
	if len(prefs) > 0 {
		delta.Preferences = prefs
	}

	return delta
}

func cleanInterest(raw string) (string, bool) {
	v, ok := cleanValue(raw)
	if !ok {
		return "", false
	}
	first := strings.SplitN(v, " ", 2)[0]
	if interestBlockwords[first] {
		return "", false
	}
	return v, true
}

func cleanValue(raw string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" || len(v) > extractedValueMaxLen {
		return "", false
	}
	return v, true
}

func capitalize(word string) string {
	runes := []rune(strings.ToLower(word))
	if len(runes) == 0 {
		return word
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
