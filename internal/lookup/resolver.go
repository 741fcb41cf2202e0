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
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Backend is the lookup capability the resolver is built around.
// Implementations perform exactly one lookup for an already validated domain and
// report failures as *Error so they can be classified; any other error is a TransportError.
type Backend[T any] interface {
	// Name identifies the backend in logs and metric labels (e.g. "ns", "rdap").
	Name() string
	// Lookup queries the backend for a single, validated, lower-case ASCII domain.
	Lookup(ctx context.Context, domain string) (T, error)
}

// backendFunc adapts a plain function to the Backend interface.
type backendFunc[T any] struct {
	name string
	fn   func(ctx context.Context, domain string) (T, error)
}

func (b backendFunc[T]) Name() string { return b.name }

func (b backendFunc[T]) Lookup(ctx context.Context, domain string) (T, error) {
	return b.fn(ctx, domain)
}

// BackendFunc wraps fn as a Backend named name.
func BackendFunc[T any](name string, fn func(ctx context.Context, domain string) (T, error)) Backend[T] {
	return backendFunc[T]{name: name, fn: fn}
}

// Observer receives per-lookup measurements. The metrics package implements it.
type Observer interface {
	ObserveLookup(backend, outcome string, elapsed time.Duration)
	ObserveWait(backend string, waited time.Duration)
}

type options struct {
	logger   *slog.Logger
	limiter  *rate.Limiter
	observer Observer
	timeout  time.Duration
}

// Option configures a Resolver.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRateLimit paces lookups to at most perSecond per second. Zero or negative disables pacing.
func WithRateLimit(perSecond float64) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithObserver registers an Observer for lookup timings and outcomes.
func WithObserver(observer Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithTimeout bounds each individual backend call. Zero leaves the caller's context untouched.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Resolver runs a batch of lookups against one Backend, strictly sequentially.
// It holds no per-batch state and may be reused for several batches.
type Resolver[T any] struct {
	backend Backend[T]
	opts    options
}

// New creates a Resolver around backend.
func New[T any](backend Backend[T], opts ...Option) *Resolver[T] {
	r := &Resolver[T]{backend: backend}
	for _, opt := range opts {
		opt(&r.opts)
	}
	if r.opts.logger == nil {
		r.opts.logger = slog.Default()
	}
	return r
}

// ResolveAll looks up every domain in order and returns one result per input.
// Failures never abort the batch: invalid names, backend errors, a cancelled
// context and even a panicking backend all become classified records.
// The returned batch always has len(domains) entries, in input order.
func (r *Resolver[T]) ResolveAll(ctx context.Context, domains []string) Batch[T] {
	batch := make(Batch[T], 0, len(domains))
	for i, raw := range domains {
		res := r.resolveOne(ctx, raw)
		r.opts.logger.Log(ctx, levelFor(res), "lookup finished",
			"backend", r.backend.Name(),
			"index", i,
			"domain", res.Domain,
			"outcome", res.Outcome(),
			"detail", res.Detail,
		)
		batch = append(batch, res)
	}
	return batch
}

// resolveOne handles a single domain: validate, pace, look up, classify.
func (r *Resolver[T]) resolveOne(ctx context.Context, raw string) (res Result[T]) {
	domain := strings.TrimSpace(raw)
	name := r.backend.Name()

	query, err := ValidateDomain(domain)
	if err != nil {
		r.observe(InvalidDomain.String(), 0)
		return Failure[T](domain, InvalidDomain, err.Error())
	}

	if r.opts.limiter != nil {
		waitStart := time.Now()
		if err := r.opts.limiter.Wait(ctx); err != nil {
			r.observe(TransportError.String(), 0)
			return Failure[T](domain, TransportError, fmt.Sprintf("rate limiter: %v", err))
		}
		if r.opts.observer != nil {
			r.opts.observer.ObserveWait(name, time.Since(waitStart))
		}
	}

	if err := ctx.Err(); err != nil {
		r.observe(TransportError.String(), 0)
		return Failure[T](domain, TransportError, err.Error())
	}

	lctx := ctx
	if r.opts.timeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, r.opts.timeout)
		defer cancel()
	}

	r.opts.logger.Debug("looking up domain", "backend", name, "domain", query)
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res = Failure[T](domain, TransportError, fmt.Sprintf("backend panic: %v", p))
		}
		r.observe(res.Outcome(), time.Since(start))
	}()

	data, err := r.backend.Lookup(lctx, query)
	if err != nil {
		return Failure[T](domain, KindOf(err), detailOf(err))
	}
	if isNil(data) {
		return Failure[T](domain, TransportError, "backend returned no data")
	}
	return Success(domain, data)
}

// isNil reports whether v would encode as JSON null.
func isNil[T any](v T) bool {
	rv := reflect.ValueOf(&v).Elem()
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

func (r *Resolver[T]) observe(outcome string, elapsed time.Duration) {
	if r.opts.observer != nil {
		r.opts.observer.ObserveLookup(r.backend.Name(), outcome, elapsed)
	}
}

// levelFor picks the log level of a finished lookup.
// Answers about the domain itself are routine; failures of the lookup path are warnings.
func levelFor[T any](res Result[T]) slog.Level {
	if res.Error == nil {
		return slog.LevelDebug
	}
	switch *res.Error {
	case NotFound, NoAnswer:
		return slog.LevelDebug
	case InvalidDomain, Forbidden, TransportError:
		return slog.LevelWarn
	}
	panic(fmt.Sprintf("unhandled error kind %v", *res.Error))
}
