// Package decision maps classifier probabilities to a screening label.
package decision

import "fmt"

// Threshold separates Normal from Pneumonia. Equality classifies as Normal.
const Threshold = 0.5

// Label is the screening outcome.
type Label string

const (
	LabelNormal    Label = "Normal"
	LabelPneumonia Label = "Pneumonia"
)

// Decision is the outcome of one successful inference.
type Decision struct {
	Label             Label   `json:"label"`
	Probability       float64 `json:"probability"`
	ConfidencePercent float64 `json:"confidence_percent"`
	ShowAdvice        bool    `json:"show_advice"`
}

// Decide thresholds the pneumonia probability p.
func Decide(p float64) Decision {
	if p > Threshold {
		return Decision{
			Label:             LabelPneumonia,
			Probability:       p,
			ConfidencePercent: p * 100,
			ShowAdvice:        true,
		}
	}
	return Decision{
		Label:             LabelNormal,
		Probability:       p,
		ConfidencePercent: (1 - p) * 100,
		ShowAdvice:        false,
	}
}

// ConfidenceString formats the confidence with two decimals, e.g. "80.00%".
func (d Decision) ConfidenceString() string {
	return fmt.Sprintf("%.2f%%", d.ConfidencePercent)
}

// Message is the short result note shown under the prediction.
func (d Decision) Message() string {
	if d.Label == LabelPneumonia {
		return "It appears there is a possibility of pneumonia. Please check the \"What to do if Pneumonia\" section for guidance."
	}
	return "The image does not show signs of pneumonia."
}

// Disclaimer accompanies every prediction.
const Disclaimer = "This AI-based prediction is for informational purposes only and does not substitute professional medical advice or diagnosis."
