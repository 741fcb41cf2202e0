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
	"encoding/json"
	"fmt"

	"github.com/zeebo/xxh3"
)

// OutcomeOK is the outcome label of a successful lookup.
const OutcomeOK = "ok"

// Result is the record produced for one input domain.
// Exactly one of Data and Error is non-nil. Detail optionally describes the error.
type Result[T any] struct {
	Domain string     `json:"domain"`
	Data   *T         `json:"data"`
	Error  *ErrorKind `json:"error"`
	Detail string     `json:"detail,omitempty"`
}

// Success builds a result carrying data.
func Success[T any](domain string, data T) Result[T] {
	return Result[T]{Domain: domain, Data: &data}
}

// Failure builds a result carrying a classified error.
func Failure[T any](domain string, kind ErrorKind, detail string) Result[T] {
	k := kind
	return Result[T]{Domain: domain, Error: &k, Detail: detail}
}

// OK reports whether the lookup produced data.
func (r Result[T]) OK() bool {
	return r.Error == nil
}

// Outcome returns OutcomeOK or the name of the error kind. Used for metric labels and summaries.
func (r Result[T]) Outcome() string {
	if r.Error == nil {
		return OutcomeOK
	}
	return r.Error.String()
}

// Batch is the ordered set of results for one invocation, one entry per input domain.
type Batch[T any] []Result[T]

// Summary counts results per outcome.
type Summary map[string]int

// Summary tallies the batch by outcome. Every outcome is present, zero or not.
func (b Batch[T]) Summary() Summary {
	s := Summary{OutcomeOK: 0}
	for _, k := range Kinds {
		s[k.String()] = 0
	}
	for _, r := range b {
		s[r.Outcome()]++
	}
	return s
}

// Failed returns the number of results that carry an error.
func (b Batch[T]) Failed() int {
	n := 0
	for _, r := range b {
		if !r.OK() {
			n++
		}
	}
	return n
}

// Digest calculates a NON-CRYPTOGRAPHIC hash (xxh3) of the batch's JSON encoding.
// Two batches with identical content have identical digests.
func (b Batch[T]) Digest() (string, error) {
	if b == nil {
		b = Batch[T]{}
	}
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("error encoding batch for digest: %w", err)
	}
	return fmt.Sprintf("%016x", xxh3.Hash(data)), nil
}
