// Package invite gates registration behind a shared list of invite codes.
package invite

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"github.com/DukeRupert/chartlens/internal/domain"
)

// Validator checks invite codes configured at startup.
//
// Codes are kept only as SHA-256 digests of their normalized form. Every
// digest has the same length, so a comparison against all of them takes the
// same time whichever code (if any) matches.
type Validator struct {
	enabled bool
	digests [][sha256.Size]byte
}

// New builds a validator. Codes are case-insensitive; blanks and
// duplicates are dropped.
func New(enabled bool, codes []string) *Validator {
	seen := make(map[[sha256.Size]byte]bool)
	digests := make([][sha256.Size]byte, 0, len(codes))
	for _, code := range codes {
		norm := normalize(code)
		if norm == "" {
			continue
		}
		d := sha256.Sum256([]byte(norm))
		if !seen[d] {
			seen[d] = true
			digests = append(digests, d)
		}
	}
	return &Validator{enabled: enabled, digests: digests}
}

// IsEnabled returns whether invite codes are required.
func (v *Validator) IsEnabled() bool {
	return v != nil && v.enabled
}

// ValidateCode reports whether code may be used to register. Any code is
// accepted while the validator is disabled.
func (v *Validator) ValidateCode(code string) bool {
	if !v.IsEnabled() {
		return true
	}

	norm := normalize(code)
	if norm == "" {
		return false
	}
	candidate := sha256.Sum256([]byte(norm))

	found := 0
	for i := range v.digests {
		found |= subtle.ConstantTimeCompare(candidate[:], v.digests[i][:])
	}
	return found == 1
}

// Check is ValidateCode as a domain error for the service layer.
func (v *Validator) Check(op, code string) error {
	if v.ValidateCode(code) {
		return nil
	}
	return domain.Invalid(op, "A valid invite code is required to register")
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
