package services

import (
	"regexp"
	"strings"

	"reverie/internal/models"
)

// Verdict reason codes.
const (
	ReasonForbiddenContent  = "forbidden_content"
	ReasonUnnaturalPhrasing = "unnatural_phrasing"
	ReasonFabrication       = "fabrication"
)

// Verdict is the outcome of validating one candidate response. Detail
// carries the offending snippet for logs and is never user-facing.
type Verdict struct {
	Safe   bool
	Reason string
	Detail string
}

func safeVerdict() Verdict { return Verdict{Safe: true} }

func unsafeVerdict(reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

// forbiddenPatterns catch self-identification as an automated system
// and disclosure of internal mechanics.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bas an ai\b`),
	regexp.MustCompile(`(?i)\blanguage model\b`),
	regexp.MustCompile(`(?i)\bmy (training data|programming|source code|system prompt|algorithms?)\b`),
	regexp.MustCompile(`(?i)\bneural network\b`),
	regexp.MustCompile(`(?i)\bi(?:'m| am) (?:just )?(?:an? )?(?:chat)?bot\b`),
	regexp.MustCompile(`(?i)\b(?:retriev\w*|fetch\w*) (?:\w+ )?from (?:the |my )?(?:database|memory store|storage)\b`),
	regexp.MustCompile(`(?i)\baccording to my (?:records|data|logs)\b`),
}

// roboticPatterns catch templated phrasing no person would use in a
// casual conversation.
var roboticPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bas (?:i )?previously (?:stated|mentioned)\b`),
	regexp.MustCompile(`(?i)\bin our conversation dated\b`),
	regexp.MustCompile(`(?i)\blet me (?:retrieve|access)\b`),
	regexp.MustCompile(`(?i)\bprocessing your request\b`),
	regexp.MustCompile(`(?i)\bconsulting my (?:knowledge base|knowledge|database)\b`),
	regexp.MustCompile(`(?i)\bis there anything else i can (?:help|assist) you with\b`),
}

// fabricationPatterns are narrow first-person factual and sensory
// assertion shapes. A match raises a candidate claim whose content
// words must overlap the grounding set or the current message. The
// scope is deliberately narrow: general conversation never matches,
// only assertions of specific shared history, observations, or
// private data.
var fabricationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\byou told me (?:last (?:week|month|year|night|time)|yesterday|before|earlier|once)\b(.*)`),
	regexp.MustCompile(`(?i)\bi remember you (?:said|mentioned|told me)\b(.*)`),
	regexp.MustCompile(`(?i)\b(?:remember )?when we (?:met|talked|hung out|went)\b(.*)`),
	regexp.MustCompile(`(?i)\byou (?:look|looked|sound|sounded)\b(.*)`),
	regexp.MustCompile(`(?i)\byour (?:address|location|phone number|password|secret)s?\b(.*)`),
}

// claimStopwords are function words plus the trigger scaffolding of
// the fabrication patterns themselves, so only the asserted content
// is checked for grounding.
var claimStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "that": true, "this": true,
	"those": true, "these": true, "it": true, "its": true, "was": true,
	"were": true, "is": true, "are": true, "be": true, "been": true,
	"you": true, "your": true, "we": true, "me": true, "my": true,
	"i": true, "at": true, "in": true, "on": true, "of": true,
	"to": true, "for": true, "with": true, "and": true, "or": true,
	"but": true, "so": true, "very": true, "really": true, "just": true,
	"have": true, "has": true, "had": true, "do": true, "did": true,
	"does": true, "when": true, "what": true, "how": true, "there": true,
	"here": true, "about": true, "like": true, "again": true,
	"still": true, "then": true, "than": true, "too": true, "also": true,
	"not": true, "no": true, "as": true, "if": true, "from": true,
	"by": true, "up": true, "out": true, "over": true, "he": true,
	"she": true, "they": true, "them": true, "his": true, "her": true,
	"their": true, "our": true, "us": true, "im": true, "youre": true,
	// trigger scaffolding and time anchors
	"told": true, "remember": true, "said": true, "mentioned": true,
	"met": true, "talked": true, "went": true, "look": true,
	"looked": true, "looks": true, "sound": true, "sounded": true,
	"seem": true, "seemed": true, "know": true, "knew": true,
	"saw": true, "heard": true, "last": true, "week": true,
	"month": true, "year": true, "yesterday": true, "earlier": true,
	"before": true, "once": true, "today": true, "tonight": true,
	"night": true, "time": true, "ago": true,
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}']+`)

type sanitizeRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// sanitizeRules rewrite forbidden and robotic phrases into natural
// equivalents. Order matters: longer, more specific phrases first.
var sanitizeRules = []sanitizeRule{
	{regexp.MustCompile(`(?i)as an ai(?: language model)?,?\s*`), ""},
	{regexp.MustCompile(`(?i)\bi(?:'m| am) (?:just )?an? (?:language model|chatbot|bot|virtual assistant|computer program)\b`), "I'm just me"},
	{regexp.MustCompile(`(?i)\bmy (?:training data|programming|algorithms?)\b`), "my gut"},
	{regexp.MustCompile(`(?i)\bmy (?:database|memory banks?)\b`), "my memory"},
	{regexp.MustCompile(`(?i)\baccording to my (?:records|data|logs)\b`), "from what I remember"},
	{regexp.MustCompile(`(?i)\bas (?:i )?previously (?:stated|mentioned)\b`), "like I said"},
	{regexp.MustCompile(`(?i)\bin our conversation dated [^,.!?]*`), "a while back"},
	{regexp.MustCompile(`(?i)\blet me (?:retrieve|access)\b`), "let me think about"},
	{regexp.MustCompile(`(?i)\bprocessing your request\b`), "thinking"},
	{regexp.MustCompile(`(?i)\bconsulting my (?:knowledge base|knowledge|database)\b`), "thinking"},
	{regexp.MustCompile(`(?i)\bis there anything else i can (?:help|assist) you with\??`), "what else is going on?"},
}

var multiSpace = regexp.MustCompile(`  +`)

// SafetyService validates candidate responses against the assembled
// context. Validate is a pure function: same inputs, same verdict, no
// side effects.
type SafetyService struct{}

// NewSafetyService creates the validator.
func NewSafetyService() *SafetyService {
	return &SafetyService{}
}

// Validate runs the ordered checks, short-circuiting on the first
// failure: forbidden content, then robotic phrasing, then fabrication,
// cheapest and most certain first.
func (s *SafetyService) Validate(candidate string, bundle *models.ContextBundle) Verdict {
	for _, p := range forbiddenPatterns {
		if m := p.FindString(candidate); m != "" {
			return unsafeVerdict(ReasonForbiddenContent, m)
		}
	}

	for _, p := range roboticPatterns {
		if m := p.FindString(candidate); m != "" {
			return unsafeVerdict(ReasonUnnaturalPhrasing, m)
		}
	}

	if verdict := s.checkFabrication(candidate, bundle); !verdict.Safe {
		return verdict
	}

	return safeVerdict()
}

// checkFabrication raises candidate claims from the narrow assertion
// patterns and requires each claim's content words to overlap what is
// actually known. Absence of evidence is insufficient grounding. A
// claim with no content words asserts nothing and passes.
func (s *SafetyService) checkFabrication(candidate string, bundle *models.ContextBundle) Verdict {
	known := knownWords(bundle)

	for _, p := range fabricationPatterns {
		for _, match := range p.FindAllString(candidate, -1) {
			claim := contentWords(match)
			if len(claim) == 0 {
				continue
			}
			if !anyOverlap(claim, known) {
				return unsafeVerdict(ReasonFabrication, strings.TrimSpace(match))
			}
		}
	}
	return safeVerdict()
}

// Sanitize rewrites forbidden and robotic phrases with natural
// replacements. The result must be re-validated: sanitization cannot
// repair a fabricated claim.
func (s *SafetyService) Sanitize(text string) string {
	for _, rule := range sanitizeRules {
		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}
	text = multiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func knownWords(bundle *models.ContextBundle) map[string]bool {
	known := make(map[string]bool)
	if bundle == nil {
		return known
	}
	for _, fact := range bundle.GroundingSet {
		for _, w := range contentWords(fact) {
			known[w] = true
		}
	}
	for _, w := range contentWords(bundle.CurrentMessage) {
		known[w] = true
	}
	return known
}

func contentWords(text string) []string {
	words := wordPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, "'")
		if w == "" || claimStopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

func anyOverlap(claim []string, known map[string]bool) bool {
	for _, w := range claim {
		if known[w] {
			return true
		}
	}
	return false
}
