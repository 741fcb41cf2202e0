package lookup

/*
domlookup — batch DNS and RDAP domain lookups
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// Domain name limits (RFC 1035 section 2.3.4).
const (
	MaxDomainLength = 253
	MaxLabelLength  = 63
)

// ErrEmptyDomain is returned by ValidateDomain for blank input.
var ErrEmptyDomain = errors.New("empty domain name")

// NormalizeDomain trims whitespace, lower-cases, and strips leading and trailing dots.
// It does not validate; junk goes in, lower-cased junk comes out.
func NormalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimLeft(domain, ".")
	domain = strings.TrimRight(domain, ".")
	return domain
}

// ValidateDomain normalizes raw and checks it is a syntactically valid host name
// with at least two labels. Internationalized names are converted to their
// A-label (punycode) form, which is what gets queried.
//
// Returns:
//   - The normalized ASCII domain name.
//   - An error describing the first violation found.
func ValidateDomain(raw string) (string, error) {
	domain := NormalizeDomain(raw)
	if domain == "" {
		return "", ErrEmptyDomain
	}

	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("invalid domain name %q: %w", raw, err)
	}
	if len(ascii) > MaxDomainLength {
		return "", fmt.Errorf("invalid domain name %q: longer than %d octets", raw, MaxDomainLength)
	}
	// idna.Lookup applies the STD3 LDH and hyphen rules; IsDomainName
	// rejects empty labels and labels over MaxLabelLength octets.
	labels, ok := dns.IsDomainName(ascii)
	if !ok {
		return "", fmt.Errorf("invalid domain name %q", raw)
	}
	if labels < 2 {
		return "", fmt.Errorf("invalid domain name %q: needs at least two labels", raw)
	}
	if isNumeric(ascii[strings.LastIndexByte(ascii, '.')+1:]) {
		return "", fmt.Errorf("invalid domain name %q: numeric top-level label", raw)
	}
	return ascii, nil
}

func isNumeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

// SortedUnique returns host names lower-cased, without the root dot,
// de-duplicated and sorted ascending. Empty names are dropped.
// The result is never nil so it serializes as [] rather than null.
func SortedUnique(names []string) []string {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		n := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
		if n != "" {
			set[n] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
