package models

// Tone labels produced by the classifier. Casual is the default and the
// tie-break resolution for ambiguous input.
const (
	ToneCasual    = "casual"
	ToneHappy     = "happy"
	ToneExcited   = "excited"
	ToneSad       = "sad"
	ToneAngry     = "angry"
	ToneAnxious   = "anxious"
	ToneSarcastic = "sarcastic"
)

// Energy levels, derived independently of the primary label.
const (
	EnergyLow    = "low"
	EnergyMedium = "medium"
	EnergyHigh   = "high"
)

// ToneResult is the classifier output for one message. It is ephemeral:
// only the primary label is recorded into exchanges and emotional arcs.
type ToneResult struct {
	Primary    string   `json:"primary"`
	Confidence float64  `json:"confidence"`
	Energy     string   `json:"energy"`
	Secondary  []string `json:"secondary,omitempty"`
}
