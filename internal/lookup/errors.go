/*
Package lookup implements the batch resolver: it takes an ordered list of domain
names and a lookup backend, performs one lookup per domain in input order, and
turns every failure into a classified per-domain result instead of aborting the batch.

The package defines the closed ErrorKind taxonomy shared by all backends, the
Backend capability they implement, and the result types that are serialized
as the tool's JSON output.
*/
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
)

// ErrorKind classifies why a single domain lookup did not produce data.
// The set is closed; callers are expected to switch over all five values.
type ErrorKind int

// The zero value is deliberately not a valid kind so an unset ErrorKind is detectable.
const (
	// InvalidDomain means the input failed domain-name syntax validation; no lookup was made.
	InvalidDomain ErrorKind = iota + 1
	// NotFound means the domain does not exist, or the upstream service answered 404.
	NotFound
	// NoAnswer means the domain exists but no authoritative answer or nameservers came back.
	NoAnswer
	// Forbidden means the upstream service refused the query (403, DNS REFUSED).
	Forbidden
	// TransportError covers every other network or protocol failure.
	TransportError
)

// Kinds lists every ErrorKind in declaration order.
var Kinds = []ErrorKind{InvalidDomain, NotFound, NoAnswer, Forbidden, TransportError}

// String returns the wire name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case InvalidDomain:
		return "InvalidDomain"
	case NotFound:
		return "NotFound"
	case NoAnswer:
		return "NoAnswer"
	case Forbidden:
		return "Forbidden"
	case TransportError:
		return "TransportError"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler so kinds serialize by name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, fmt.Errorf("invalid error kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for _, candidate := range Kinds {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", string(text))
}

func (k ErrorKind) valid() bool {
	return k >= InvalidDomain && k <= TransportError
}

// Error is the classified failure a Backend returns for a single domain.
// It carries the kind used for the result record and the underlying cause.
type Error struct {
	Kind   ErrorKind
	Domain string
	Err    error
}

// NewError creates a classified lookup error.
//
// Parameters:
//
//	kind: The classification to report in the result record.
//	domain: The domain being looked up.
//	err: The underlying cause; may be nil.
func NewError(kind ErrorKind, domain string, err error) error {
	return &Error{Kind: kind, Domain: domain, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Domain, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Domain, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies an arbitrary error returned by a backend.
// A *Error anywhere in the chain supplies its Kind; anything else,
// including context cancellation and deadline errors, is a TransportError.
// KindOf(nil) returns 0.
func KindOf(err error) ErrorKind {
	if err == nil {
		return 0
	}
	var le *Error
	if errors.As(err, &le) && le.Kind.valid() {
		return le.Kind
	}
	return TransportError
}

// detailOf returns the human readable cause recorded next to the kind.
func detailOf(err error) string {
	var le *Error
	if errors.As(err, &le) {
		if le.Err == nil {
			return ""
		}
		return le.Err.Error()
	}
	return err.Error()
}
