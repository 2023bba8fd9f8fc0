package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"studio/internal/domain"
)

// Verifier authenticates completion callbacks. The signature covers the
// delivery id, the unix timestamp and the raw payload, joined with dots, so
// neither the payload nor its timing can be replayed independently.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Sign computes the hex signature for the given delivery. Exposed for the
// provider side of tests and for local callback simulation.
func (v *Verifier) Sign(deliveryID, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s.%s.", deliveryID, timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature and rejects deliveries whose timestamp falls
// outside the tolerance window. All failures map onto ErrSignatureInvalid;
// callers return 401 without distinguishing the cause.
func (v *Verifier) Verify(deliveryID, timestamp, signature string, payload []byte) error {
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrSignatureInvalid
	}
	drift := v.now().Sub(time.Unix(unix, 0))
	if drift > v.tolerance || drift < -v.tolerance {
		return domain.ErrSignatureInvalid
	}
	expected := v.Sign(deliveryID, timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.ErrSignatureInvalid
	}
	return nil
}
