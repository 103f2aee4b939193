package student

import (
	"strings"

	"github.com/daniel-alt-pages/ietac-sub000/core"
)

const gmailDomain = "@gmail.com"

// NormalizeEmail lower-cases addr and strips a trailing "@gmail.com",
// so "Juan.Perez@GMAIL.com" and "juan.perez" compare equal.
func NormalizeEmail(addr string) string {
	return strings.TrimSuffix(core.CleanString(addr, true /* lower */), gmailDomain)
}

// ResolveStatus derives the displayed verification status from the stored raw fields.
// Rules, in order:
//  1. stored VERIFIED with a used email             -> VERIFIED
//  2. stored MISMATCH without a used email          -> PENDING
//  3. stored MISMATCH with a used email             -> VERIFIED if assigned == used, else MISMATCH
//  4. stored PENDING or absent                      -> PENDING (even if a used email is present)
//  5. anything else: no used email -> PENDING, otherwise compare as in 3
//
// It never fails: missing or malformed fields degrade to PENDING.
func ResolveStatus(s Student) Status {
	used := s.UsedAddress()
	hasUsed := core.CleanString(used) != ""

	compare := func() Status {
		if NormalizeEmail(s.AssignedAddress()) == NormalizeEmail(used) {
			return StatusVerified
		}
		return StatusMismatch
	}

	switch s.VerificationStatus {
	case StatusVerified:
		if hasUsed {
			return StatusVerified
		}
	case StatusMismatch:
		// MISMATCH written without any used email is treated as never attempted.
		if !hasUsed {
			return StatusPending
		}
		return compare()
	case StatusPending, "":
		return StatusPending
	}

	if !hasUsed {
		return StatusPending
	}
	return compare()
}
