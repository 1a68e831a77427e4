package licensing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// License tokens are self-contained: URL-safe base64 of the ASCII string
// "<tier>|<YYYYMMDD>|<hex-sha256-signature>". The signature covers
// "<tier>|<YYYYMMDD>|<secret>", so any party holding the secret can verify
// a token offline without contacting the backend.
const expiryLayout = "20060102"

// Token errors. All verification failures are recoverable; callers should
// treat them as "no entitlement", never as fatal.
var (
	ErrMalformedToken   = errors.New("malformed license token")
	ErrSignatureInvalid = errors.New("license signature invalid")
	ErrUnknownTier      = errors.New("unknown license tier")
)

// Codec issues and verifies signed license tokens.
type Codec struct {
	secret string
	now    func() time.Time
}

// NewCodec creates a Codec signing with the given process-wide secret.
func NewCodec(secret string) *Codec {
	return &Codec{
		secret: secret,
		now:    time.Now,
	}
}

// Issue mints a token for a paid tier, valid for validityDays from today
// (UTC). The returned expiry is the date encoded in the token.
func (c *Codec) Issue(tier Tier, validityDays int) (string, time.Time, error) {
	if !tier.Paid() {
		return "", time.Time{}, fmt.Errorf("%w: %q is not issuable", ErrUnknownTier, tier)
	}
	if validityDays <= 0 {
		return "", time.Time{}, fmt.Errorf("validity must be positive, got %d days", validityDays)
	}

	// Truncate to the date so the returned expiry matches what a verifier
	// reads back out of the token.
	now := c.now().UTC()
	expires := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, validityDays)
	expiry := expires.Format(expiryLayout)
	raw := string(tier) + "|" + expiry + "|" + c.sign(string(tier), expiry)
	return base64.URLEncoding.EncodeToString([]byte(raw)), expires, nil
}

// Verify decodes and authenticates a token, returning the tier and expiry
// it encodes. Expiry is NOT checked here; entitlement evaluation owns that
// decision so callers can still inspect an expired-but-authentic token.
func (c *Codec) Verify(token string) (Tier, time.Time, error) {
	raw, err := base64.URLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return TierFree, time.Time{}, ErrMalformedToken
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 3 {
		return TierFree, time.Time{}, ErrMalformedToken
	}

	expected := c.sign(parts[0], parts[1])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(parts[2])) != 1 {
		return TierFree, time.Time{}, ErrSignatureInvalid
	}

	tier, ok := ParseTier(parts[0])
	if !ok || !tier.Paid() {
		return TierFree, time.Time{}, fmt.Errorf("%w: %q", ErrUnknownTier, parts[0])
	}

	expires, err := time.ParseInLocation(expiryLayout, parts[1], time.UTC)
	if err != nil {
		return TierFree, time.Time{}, ErrMalformedToken
	}

	return tier, expires, nil
}

func (c *Codec) sign(tier, expiry string) string {
	sum := sha256.Sum256([]byte(tier + "|" + expiry + "|" + c.secret))
	return hex.EncodeToString(sum[:])
}
