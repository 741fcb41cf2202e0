/*
Package dnsns implements the DNS nameserver lookup backend: one NS query per
domain against a configured recursive resolver, with the response code mapped
onto the lookup error taxonomy.
*/
package dnsns

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
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/x-stp/domlookup/internal/lookup"
)

// DNS backend defaults.
const (
	// BackendName labels this backend in logs and metrics.
	BackendName = "ns"
	// ResolvConfPath is consulted for a resolver when none is configured.
	ResolvConfPath = "/etc/resolv.conf"
	// FallbackServer is used when ResolvConfPath is missing or empty.
	FallbackServer = "1.1.1.1:53"
	// DefaultTimeout bounds a single exchange when the context carries no deadline.
	DefaultTimeout = 5 * time.Second
	// defaultPort is appended to resolver addresses given without one.
	defaultPort = "53"
)

// Config holds the resolver settings for the NS backend.
// A zero-value Config resolves via the system resolver over UDP.
type Config struct {
	// Server is the resolver address, "host" or "host:port".
	Server string
	// TCP forces queries over TCP instead of UDP.
	TCP bool
	// Timeout bounds one exchange. Zero means DefaultTimeout.
	Timeout time.Duration
	// Logger receives debug output. Nil means slog.Default().
	Logger *slog.Logger
}

// Backend queries NS records. It implements lookup.Backend[[]string].
type Backend struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
	forceT bool
	logger *slog.Logger
}

var _ lookup.Backend[[]string] = (*Backend)(nil)

// New creates an NS backend from cfg, resolving the default server if needed.
func New(cfg Config) (*Backend, error) {
	server := cfg.Server
	if server == "" {
		server = SystemServer(ResolvConfPath)
	}
	server, err := normalizeServer(server)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
		forceT: cfg.TCP,
		logger: logger,
	}, nil
}

// SystemServer returns the first nameserver from a resolv.conf style file,
// or FallbackServer if the file cannot be read or lists none.
func SystemServer(path string) string {
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil || len(conf.Servers) == 0 {
		return FallbackServer
	}
	port := conf.Port
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(conf.Servers[0], port)
}

// normalizeServer makes sure the address carries a port. IPv6 literals must be bracketed when a port is given.
func normalizeServer(server string) (string, error) {
	if server == "" {
		return "", errors.New("empty resolver address")
	}
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server, nil
	}
	if ip := net.ParseIP(server); ip != nil || !strings.Contains(server, ":") {
		return net.JoinHostPort(server, defaultPort), nil
	}
	return "", fmt.Errorf("invalid resolver address %q", server)
}

// Name implements lookup.Backend.
func (b *Backend) Name() string { return BackendName }

// Server returns the resolver address queries are sent to.
func (b *Backend) Server() string { return b.server }

// Lookup sends one NS query for domain and returns the sorted, de-duplicated nameserver names.
// A truncated UDP answer is re-asked once over TCP.
func (b *Backend) Lookup(ctx context.Context, domain string) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeNS)
	msg.RecursionDesired = true

	client := b.udp
	if b.forceT {
		client = b.tcp
	}
	resp, rtt, err := client.ExchangeContext(ctx, msg, b.server)
	if err == nil && resp.Truncated && !b.forceT {
		b.logger.Debug("truncated UDP answer, retrying over TCP", "domain", domain, "server", b.server)
		resp, rtt, err = b.tcp.ExchangeContext(ctx, msg, b.server)
	}
	if err != nil {
		return nil, lookup.NewError(lookup.TransportError, domain, fmt.Errorf("query %s: %w", b.server, err))
	}
	b.logger.Debug("DNS answer", "domain", domain, "rcode", dns.RcodeToString[resp.Rcode], "answers", len(resp.Answer), "rtt", rtt)

	return nameservers(domain, resp)
}

// nameservers maps a response onto either the NS host list or a classified error.
func nameservers(domain string, resp *dns.Msg) ([]string, error) {
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, lookup.NewError(lookup.NotFound, domain, errors.New("NXDOMAIN"))
	case dns.RcodeServerFailure:
		return nil, lookup.NewError(lookup.NoAnswer, domain, errors.New("SERVFAIL"))
	case dns.RcodeRefused:
		return nil, lookup.NewError(lookup.Forbidden, domain, errors.New("REFUSED"))
	default:
		return nil, lookup.NewError(lookup.TransportError, domain, fmt.Errorf("unexpected rcode %s", rcodeName(resp.Rcode)))
	}

	var hosts []string
	for _, rr := range resp.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			hosts = append(hosts, ns.Ns)
		}
	}
	if len(hosts) == 0 {
		return nil, lookup.NewError(lookup.NoAnswer, domain, errors.New("no NS records in answer"))
	}
	return lookup.SortedUnique(hosts), nil
}

func rcodeName(rcode int) string {
	if name, ok := dns.RcodeToString[rcode]; ok {
		return name
	}
	return fmt.Sprintf("RCODE%d", rcode)
}
