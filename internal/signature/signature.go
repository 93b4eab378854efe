package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Header is the name of the HTTP header carrying the webhook signature.
const Header = "Hookrelay-Signature"

// Sign computes a Stripe-style signature header over payload:
//
//	t=<unix_seconds>,v1=<hex hmac_sha256(secret, "<unix_seconds>.<payload>")>
//
// Deterministic for identical payload/secret/now.
func Sign(payload []byte, secret string, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// Verify recomputes the signature using the timestamp embedded in header,
// never the wall clock, and compares in constant time. False on a malformed
// header or a missing t/v1 part.
func Verify(payload []byte, header, secret string) bool {
	ts, sig, ok := parse(header)
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// Timestamp extracts the signing time from header. Used by receivers that
// enforce a maximum clock skew.
func Timestamp(header string) (time.Time, bool) {
	ts, _, ok := parse(header)
	if !ok {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0).UTC(), true
}

func parse(header string) (ts, sig string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(part, "=")
		if !found {
			return "", "", false
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return "", "", false
	}
	return ts, sig, true
}
