package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/whisper/verdict-app/internal/verdict"
)

const (
	MaxBodyBytes = 16 << 10 // request body cap
	MaxTextChars = 500      // max character count of a case
)

// verdictRequest is the decoded body of POST /api/verdict.
type verdictRequest struct {
	Text    string
	Density float64
}

// ValidateText checks that a case meets content requirements.
func ValidateText(text string) error {
	if !utf8.ValidString(text) {
		return fmt.Errorf("text contains invalid UTF-8")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("text is required")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("text exceeds %d character limit", MaxTextChars)
	}
	return nil
}

// ParseDensity accepts a JSON number or a numeric string. Values outside
// [0,10] are clamped; NaN and infinities are rejected.
func ParseDensity(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("density is required")
	}

	var d float64
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("density must be a number")
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("density must be a number")
		}
		d = v
	} else if err := json.Unmarshal(raw, &d); err != nil {
		return 0, fmt.Errorf("density must be a number")
	}

	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("density must be a number")
	}
	return verdict.ClampDensity(d), nil
}

// decodeVerdictRequest reads and validates the request body.
func decodeVerdictRequest(w http.ResponseWriter, r *http.Request) (verdictRequest, error) {
	var body struct {
		Text    *string         `json:"text"`
		Density json.RawMessage `json:"density"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		return verdictRequest{}, fmt.Errorf("invalid json")
	}
	if body.Text == nil {
		return verdictRequest{}, fmt.Errorf("text is required")
	}
	if err := ValidateText(*body.Text); err != nil {
		return verdictRequest{}, err
	}
	density, err := ParseDensity(body.Density)
	if err != nil {
		return verdictRequest{}, err
	}
	return verdictRequest{Text: *body.Text, Density: density}, nil
}

// ClientIdentifier derives the rate limit key for r. Forwarding headers are
// only honoured when the peer is one of the trusted proxies; the key is then
// the right-most X-Forwarded-For hop that is not itself a trusted proxy, or
// X-Real-IP when there is no X-Forwarded-For. Otherwise it is the peer host.
func ClientIdentifier(r *http.Request, trusted []netip.Prefix) string {
	peer := peerHost(r.RemoteAddr)
	if !isTrusted(peer, trusted) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		client := ""
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			client = hop
			if !isTrusted(hop, trusted) {
				break
			}
		}
		if client != "" {
			return client
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return peer
}

func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func isTrusted(host string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		ap, err := netip.ParseAddrPort(host)
		if err != nil {
			return false
		}
		addr = ap.Addr()
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParseTrustedProxies parses CIDRs or bare addresses into prefixes.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("api: trusted proxy %q: %w", v, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("api: trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
