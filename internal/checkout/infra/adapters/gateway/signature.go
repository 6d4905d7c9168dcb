package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
)

// Signature headers look like "t=1700000000,v1=<hex>[,v1=<hex>...]". The
// MAC is HMAC-SHA256 over "<t>.<raw body>" keyed with the endpoint secret.

// Sign returns a signature header for payload at time ts.
func Sign(payload []byte, secret string, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + computeMAC(payload, secret, t)
}

func computeMAC(payload []byte, secret, t string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(t))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature checks header against the exact payload bytes. A
// tolerance of zero disables the timestamp check.
func verifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: no webhook secret configured", domain.ErrSignatureInvalid)
	}
	if header == "" {
		return fmt.Errorf("%w: missing signature header", domain.ErrSignatureInvalid)
	}

	var (
		ts         string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if ts == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: malformed signature header", domain.ErrSignatureInvalid)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", domain.ErrSignatureInvalid, ts)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", domain.ErrSignatureInvalid)
		}
	}

	expected := []byte(computeMAC(payload, secret, ts))
	for _, sig := range signatures {
		if hmac.Equal(expected, []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", domain.ErrSignatureInvalid)
}
