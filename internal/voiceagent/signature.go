package voiceagent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature     = "ElevenLabs-Signature"
	defaultSignatureTTL = 30 * time.Minute
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrBadSignature     = errors.New("invalid webhook signature")
	ErrStaleSignature   = errors.New("webhook signature timestamp outside tolerance")
)

// VerifySignature checks a "t=<unix>,v0=<hex hmac>" header. The MAC covers "<t>.<body>".
func VerifySignature(secret string, header string, body []byte, now time.Time, tolerance time.Duration) error {
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}
	if tolerance <= 0 {
		tolerance = defaultSignatureTTL
	}

	var ts, mac string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v0":
			mac = v
		}
	}
	if ts == "" || mac == "" {
		return ErrBadSignature
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if d := now.Sub(time.Unix(sec, 0)); d > tolerance || d < -tolerance {
		return ErrStaleSignature
	}

	want, err := hex.DecodeString(mac)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(want, Sign(secret, ts, body)) {
		return ErrBadSignature
	}
	return nil
}

// Sign computes the raw MAC for timestamp ts and body.
func Sign(secret, ts string, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(ts))
	h.Write([]byte("."))
	h.Write(body)
	return h.Sum(nil)
}

// SignatureHeader builds a header value for body at time t.
func SignatureHeader(secret string, t time.Time, body []byte) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v0=" + hex.EncodeToString(Sign(secret, ts, body))
}
