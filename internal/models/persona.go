package models

// Persona is the immutable persona definition loaded from YAML at
// startup. It is replaced wholesale on hot reload, never mutated.
type Persona struct {
	Name         string `yaml:"name" json:"name"`
	Description  string `yaml:"description" json:"description"`
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`

	// ToneGuidance keys are tone labels; the assembler renders the
	// matching entry into the bundle's tone_guidance excerpt.
	ToneGuidance map[string]ToneGuidance `yaml:"tone_guidance" json:"tone_guidance"`

	// Deflections are curated replies for are-you-a-bot questions,
	// picked deterministically per turn.
	Deflections []string `yaml:"deflections" json:"deflections"`

	// Fallbacks are tone-keyed canned replies used when generation
	// fails or a response cannot be made safe.
	Fallbacks       map[string][]string `yaml:"fallbacks" json:"fallbacks"`
	DefaultFallback []string            `yaml:"default_fallback" json:"default_fallback"`

	OpenersNewUser   []string `yaml:"openers_new_user" json:"openers_new_user"`
	OpenersReturning []string `yaml:"openers_returning" json:"openers_returning"`
}

// ToneGuidance tells the generation step how to respond to a detected
// tone: overall style plus phrases to lean into or away from.
type ToneGuidance struct {
	Style   string   `yaml:"style" json:"style"`
	Avoid   []string `yaml:"avoid" json:"avoid"`
	Include []string `yaml:"include" json:"include"`
}
