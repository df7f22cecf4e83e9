// Package security provides security analysis for stored server
// credentials.
package security

// Strength represents the strength level of a password.
type Strength int

const (
	// StrengthWeak indicates an insecure password (less than 8 characters).
	StrengthWeak Strength = iota
	// StrengthFair indicates a minimally acceptable password.
	StrengthFair
	// StrengthGood indicates a good password.
	StrengthGood
	// StrengthStrong indicates a strong password.
	StrengthStrong
)

// String returns a human-readable representation of the strength level.
func (s Strength) String() string {
	switch s {
	case StrengthWeak:
		return "Weak"
	case StrengthFair:
		return "Fair"
	case StrengthGood:
		return "Good"
	case StrengthStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// CheckPassword evaluates a human-chosen password.
// Length is the primary factor per NIST guidelines (composition rules discouraged).
// NIST SP 800-63B recommends:
// - Minimum 8 characters for user-chosen passwords
// - No complexity requirements (uppercase, numbers, symbols)
// - Focus on length and avoiding compromised passwords
func CheckPassword(value string) Strength {
	length := len(value)

	switch {
	case length >= 20:
		return StrengthStrong
	case length >= 14:
		return StrengthGood
	case length >= 8:
		return StrengthFair
	default:
		return StrengthWeak
	}
}
