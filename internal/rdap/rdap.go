/*
Package rdap implements the RDAP lookup backend. It fetches the domain object from
an RDAP service (by default the rdap.org bootstrap redirector, which forwards to the
authoritative registry server), decodes it with openrdap, and reduces it to the
nameserver and registrar details the tool reports.
*/
package rdap

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
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	openrdap "github.com/openrdap/rdap"
	"github.com/x-stp/domlookup/internal/client"
	"github.com/x-stp/domlookup/internal/lookup"
	"golang.org/x/net/publicsuffix"
)

const (
	// BackendName labels this backend in logs and metrics.
	BackendName = "rdap"
	// DefaultBaseURL is the bootstrap redirector used when no server is configured.
	DefaultBaseURL = "https://rdap.org"
	// MediaType is the RDAP JSON media type (RFC 7480).
	MediaType = "application/rdap+json"
	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 4 << 20

	roleRegistrar   = "registrar"
	ianaRegistrarID = "IANA Registrar ID"
	eventRegistered = "registration"
	eventExpiration = "expiration"
)

// Registrar is the subset of a registrar entity that gets reported.
type Registrar struct {
	Handle string `json:"handle,omitempty"`
	Name   string `json:"name,omitempty"`
	IANAID string `json:"iana_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Details is the per-domain payload of the RDAP backend.
type Details struct {
	LDHName     string      `json:"ldh_name"`
	Nameservers []string    `json:"nameservers"`
	Registrars  []Registrar `json:"registrars"`
	Status      []string    `json:"status"`
	Registered  string      `json:"registered,omitempty"`
	Expires     string      `json:"expires,omitempty"`
}

// Config configures the RDAP backend. A zero-value Config queries rdap.org with the shared HTTP client.
type Config struct {
	// BaseURL is the RDAP service root; "/domain/<name>" is appended.
	BaseURL string
	// HTTPClient overrides the shared client from internal/client.
	HTTPClient *http.Client
	// Registrable queries the registrable domain (eTLD+1) instead of the name given.
	Registrable bool
	// Logger receives debug output. Nil means slog.Default().
	Logger *slog.Logger
}

// Backend fetches RDAP domain objects. It implements lookup.Backend[Details].
type Backend struct {
	base        *url.URL
	http        *http.Client
	registrable bool
	logger      *slog.Logger
}

var _ lookup.Backend[Details] = (*Backend)(nil)

// New creates an RDAP backend from cfg.
func New(cfg Config) (*Backend, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid RDAP base URL %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid RDAP base URL %q: scheme must be http or https", raw)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid RDAP base URL %q: missing host", raw)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = client.GetHTTPClient()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{base: base, http: httpClient, registrable: cfg.Registrable, logger: logger}, nil
}

// Name implements lookup.Backend.
func (b *Backend) Name() string { return BackendName }

// Lookup fetches and reduces the RDAP domain object for domain.
// HTTP 404 is NotFound, 403 is Forbidden; any other non-200 status or an
// undecodable body is a TransportError.
func (b *Backend) Lookup(ctx context.Context, domain string) (Details, error) {
	query := domain
	if b.registrable {
		apex, err := publicsuffix.EffectiveTLDPlusOne(domain)
		if err != nil {
			return Details{}, lookup.NewError(lookup.InvalidDomain, domain, fmt.Errorf("no registrable domain: %w", err))
		}
		query = apex
	}

	endpoint := b.base.JoinPath("domain", query).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Details{}, lookup.NewError(lookup.TransportError, domain, err)
	}
	req.Header.Set("Accept", MediaType+", application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return Details{}, lookup.NewError(lookup.TransportError, domain, err)
	}
	defer resp.Body.Close()

	b.logger.Debug("RDAP response", "domain", domain, "query", query, "status", resp.StatusCode, "url", resp.Request.URL.String())

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// rdap.org answers 404 when no authoritative RDAP server is known for the TLD.
		return Details{}, lookup.NewError(lookup.NotFound, domain, errors.New("HTTP 404"))
	case http.StatusForbidden:
		return Details{}, lookup.NewError(lookup.Forbidden, domain, errors.New("HTTP 403"))
	default:
		return Details{}, lookup.NewError(lookup.TransportError, domain, fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Details{}, lookup.NewError(lookup.TransportError, domain, fmt.Errorf("error reading RDAP body: %w", err))
	}
	obj, err := openrdap.NewDecoder(body).Decode()
	if err != nil {
		return Details{}, lookup.NewError(lookup.TransportError, domain, fmt.Errorf("error decoding RDAP body: %w", err))
	}
	d, ok := obj.(*openrdap.Domain)
	if !ok {
		return Details{}, lookup.NewError(lookup.TransportError, domain, fmt.Errorf("unexpected RDAP object %T", obj))
	}
	return detailsFrom(d), nil
}

// detailsFrom reduces a decoded domain object to Details.
func detailsFrom(d *openrdap.Domain) Details {
	names := make([]string, 0, len(d.Nameservers))
	for _, ns := range d.Nameservers {
		names = append(names, ns.LDHName)
	}

	details := Details{
		LDHName:     strings.ToLower(d.LDHName),
		Nameservers: lookup.SortedUnique(names),
		Registrars:  registrars(d.Entities),
		Status:      append([]string{}, d.Status...),
	}
	for _, ev := range d.Events {
		switch ev.Action {
		case eventRegistered:
			details.Registered = ev.Date
		case eventExpiration:
			details.Expires = ev.Date
		}
	}
	return details
}

// registrars collects the entities carrying the registrar role.
func registrars(entities []openrdap.Entity) []Registrar {
	out := []Registrar{}
	for _, e := range entities {
		if !hasRole(e.Roles, roleRegistrar) {
			continue
		}
		r := Registrar{Handle: e.Handle}
		if e.VCard != nil {
			r.Name = e.VCard.Name()
			r.Email = e.VCard.Email()
		}
		for _, id := range e.PublicIDs {
			if strings.EqualFold(id.Type, ianaRegistrarID) {
				r.IANAID = id.Identifier
			}
		}
		out = append(out, r)
	}
	return out
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}
