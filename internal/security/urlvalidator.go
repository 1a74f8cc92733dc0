// Package security validates result URLs and save paths before the
// client touches the filesystem or follows a link the backend handed
// back.
package security

import (
	"errors"
	"net"
	"net/url"
)

var (
	ErrInvalidScheme = errors.New("only HTTPS URLs are allowed")
	ErrPrivateIP     = errors.New("URL resolves to a private IP address")

	skipValidation = false
)

// SetSkipValidation disables URL checks. Test hook only.
func SetSkipValidation(skip bool) {
	skipValidation = skip
}

// ValidateResultURL checks that a result image URL is safe to fetch:
// HTTPS only, and not pointing into private address space. The backend
// is trusted, but the URL field travels through job snapshots and the
// local journal, so it is re-checked at download time.
func ValidateResultURL(rawURL string) error {
	if skipValidation {
		return nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return err
	}

	if parsed.Scheme != "https" {
		return ErrInvalidScheme
	}

	return validateHostIP(parsed.Hostname())
}

func validateHostIP(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		// Unresolvable here may still resolve at fetch time; let the
		// download surface the real error.
		return nil
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return ErrPrivateIP
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() || ip.IsUnspecified() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 0: // 0.0.0.0/8
			return true
		case ip4[0] == 100 && ip4[1] >= 64 && ip4[1] <= 127: // 100.64.0.0/10 (CGNAT)
			return true
		case ip4[0] >= 224: // multicast and reserved
			return true
		}
	}
	return false
}
