package qr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultImageSize = 280
	MaxImageSize     = 1000

	rendererURL = "https://api.qrserver.com/v1/create-qr-code/"
)

// Payload is the text encoded into the QR image for a verification token.
func Payload(token string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(struct {
		Token string `json:"token"`
	}{token})
	return strings.TrimSuffix(buf.String(), "\n")
}

// NormalizeToken accepts either a bare token or a JSON payload carrying it
// under "token" or "t".
func NormalizeToken(scanned string) string {
	s := strings.TrimSpace(scanned)
	if !strings.HasPrefix(s, "{") {
		return s
	}
	var body struct {
		Token string `json:"token"`
		T     string `json:"t"`
	}
	if err := json.Unmarshal([]byte(s), &body); err != nil {
		return s
	}
	switch {
	case body.Token != "":
		return strings.TrimSpace(body.Token)
	case body.T != "":
		return strings.TrimSpace(body.T)
	}
	return s
}

// ImageURL points at a public renderer for payload. No image is produced
// locally.
func ImageURL(payload string, size int) string {
	if size <= 0 {
		size = DefaultImageSize
	}
	if size > MaxImageSize {
		size = MaxImageSize
	}
	q := url.Values{}
	q.Set("size", fmt.Sprintf("%dx%d", size, size))
	q.Set("data", payload)
	return rendererURL + "?" + q.Encode()
}
