package session

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
)

// otpChallenge is the in-memory code gating one PIN change.
type otpChallenge struct {
	code      string
	email     string
	issuedAt  time.Time
	expiresAt time.Time
	attempts  int
}

func newOtpChallenge(code, email string, now time.Time, ttl time.Duration) *otpChallenge {
	return &otpChallenge{
		code:      code,
		email:     email,
		issuedAt:  now,
		expiresAt: now.Add(ttl),
	}
}

func (c *otpChallenge) expired(now time.Time) bool {
	return !now.Before(c.expiresAt)
}

func (c *otpChallenge) matches(code string) bool {
	code = strings.TrimSpace(code)
	return subtle.ConstantTimeCompare([]byte(code), []byte(c.code)) == 1
}

func generateOtp() (string, error) {
	return common.MakeNumericCode(common.OtpDigits)
}
