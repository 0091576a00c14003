package generator

import (
	"github.com/nbutton23/zxcvbn-go"
)

// Labels names the zxcvbn scores 0 to 4.
var Labels = [...]string{"very weak", "weak", "medium", "strong", "very strong"}

// Result rates one password.
type Result struct {
	Score     int     `json:"score"`
	Label     string  `json:"label"`
	Entropy   float64 `json:"entropy"`
	CrackTime string  `json:"crack_time"`
}

// Strength rates password. userInputs are words the password should not
// be built from, such as the entry title or username.
func Strength(password string, userInputs ...string) Result {
	if password == "" {
		return Result{Score: 0, Label: Labels[0], CrackTime: "instant"}
	}

	m := zxcvbn.PasswordStrength(password, userInputs)

	score := m.Score
	if score < 0 {
		score = 0
	}
	if score >= len(Labels) {
		score = len(Labels) - 1
	}

	return Result{
		Score:     score,
		Label:     Labels[score],
		Entropy:   m.Entropy,
		CrackTime: m.CrackTimeDisplay,
	}
}
