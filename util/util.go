package util

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/idna"
)

// UnknownIP is the bucket shared by requests that carry no client address.
const UnknownIP = "unknown"

// ClientIP derives the client address from proxy headers. The first entry of
// X-Forwarded-For wins, then X-Real-IP. Requests without either header share
// the UnknownIP bucket.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	return UnknownIP
}

// NormalizeEmail trims and lowercases an address and converts its domain
// to ASCII, so that "Me@Bücher.example" and "me@xn--bcher-kva.example"
// deduplicate to the same subscriber.
func NormalizeEmail(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return address, fmt.Errorf("address %q has no domain", address)
	}
	domain, err := idna.Lookup.ToASCII(address[at+1:])
	if err != nil {
		return address, fmt.Errorf("could not convert domain of %q to ASCII (%s)", address, err)
	}
	return address[:at+1] + domain, nil
}

// MaskEmail hides most of the local part of an address for log output.
func MaskEmail(address string) string {
	at := strings.LastIndex(address, "@")
	if at <= 0 {
		return "***"
	}
	return address[:1] + "***" + address[at:]
}

// Errors collects multiple errors, e.g. one per missing config variable.
type Errors []error

func (e Errors) Error() string {
	messages := make([]string, 0, len(e))
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "\n")
}

// Require records an error in errs if value is empty.
func Require(name string, value string, errs *Errors) string {
	if value == "" {
		*errs = append(*errs, fmt.Errorf("environment variable %s must be set", name))
	}
	return value
}
