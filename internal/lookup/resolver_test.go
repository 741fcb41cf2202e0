package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend returns canned nameserver answers and records every call.
type fakeBackend struct {
	answers map[string][]string
	errs    map[string]error
	calls   []string
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Lookup(ctx context.Context, domain string) ([]string, error) {
	f.calls = append(f.calls, domain)
	if err, ok := f.errs[domain]; ok {
		return nil, err
	}
	if ns, ok := f.answers[domain]; ok {
		return SortedUnique(ns), nil
	}
	return nil, NewError(NotFound, domain, nil)
}

func newFake() *fakeBackend {
	return &fakeBackend{
		answers: map[string][]string{
			"example.com": {"ns2.example.com.", "ns1.example.com.", "ns1.example.com."},
			"example.org": {"a.iana-servers.net."},
		},
		errs: map[string]error{
			"empty.example":  NewError(NoAnswer, "empty.example", errors.New("no NS records")),
			"denied.example": NewError(Forbidden, "denied.example", errors.New("HTTP 403")),
			"flaky.example":  errors.New("read udp: i/o timeout"),
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveAllPreservesLengthAndOrder(t *testing.T) {
	t.Parallel()

	fake := newFake()
	r := New[[]string](fake, WithLogger(quietLogger()))
	input := []string{"example.org", "not a domain", "example.com", "missing.example", "example.org", "flaky.example"}

	batch := r.ResolveAll(context.Background(), input)

	require.Len(t, batch, len(input))
	for i, res := range batch {
		assert.Equal(t, input[i], res.Domain)
	}
	// duplicates are looked up independently, invalid input never reaches the backend
	assert.Equal(t, []string{"example.org", "example.com", "missing.example", "example.org", "flaky.example"}, fake.calls)
}

func TestResolveAllClassifiesEachDomain(t *testing.T) {
	t.Parallel()

	r := New[[]string](newFake(), WithLogger(quietLogger()))
	batch := r.ResolveAll(context.Background(), []string{
		"example.com", "missing.example", "empty.example", "denied.example", "flaky.example", "-bad-.example",
	})

	require.Len(t, batch, 6)
	require.True(t, batch[0].OK())
	assert.Equal(t, []string{"ns1.example.com", "ns2.example.com"}, *batch[0].Data)

	want := []ErrorKind{NotFound, NoAnswer, Forbidden, TransportError, InvalidDomain}
	for i, kind := range want {
		res := batch[i+1]
		require.NotNil(t, res.Error, res.Domain)
		assert.Nil(t, res.Data, res.Domain)
		assert.Equal(t, kind, *res.Error, res.Domain)
	}
	assert.Equal(t, "read udp: i/o timeout", batch[4].Detail)
}

func TestResolveAllNotFoundSerializesNullData(t *testing.T) {
	t.Parallel()

	r := New[[]string](newFake(), WithLogger(quietLogger()))
	batch := r.ResolveAll(context.Background(), []string{"missing.example"})

	out, err := json.Marshal(batch)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"domain":"missing.example","data":null,"error":"NotFound"}]`, string(out))
}

func TestResolveAllEmptyInput(t *testing.T) {
	t.Parallel()

	fake := newFake()
	batch := New[[]string](fake, WithLogger(quietLogger())).ResolveAll(context.Background(), nil)

	out, err := json.Marshal(batch)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))
	assert.Empty(t, fake.calls)
}

func TestResolveAllIsIdempotent(t *testing.T) {
	t.Parallel()

	input := []string{"example.com", "missing.example", "denied.example", "example.org"}
	r := New[[]string](newFake(), WithLogger(quietLogger()))

	first := r.ResolveAll(context.Background(), input)
	second := r.ResolveAll(context.Background(), input)
	assert.Equal(t, first, second)

	d1, err := first.Digest()
	require.NoError(t, err)
	d2, err := second.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 16)
}

func TestResolveAllRecoversBackendPanic(t *testing.T) {
	t.Parallel()

	backend := BackendFunc("panicky", func(ctx context.Context, domain string) (string, error) {
		if domain == "boom.example" {
			panic("nil map")
		}
		return "ok", nil
	})
	batch := New[string](backend, WithLogger(quietLogger())).ResolveAll(context.Background(), []string{"boom.example", "fine.example"})

	require.Len(t, batch, 2)
	require.NotNil(t, batch[0].Error)
	assert.Equal(t, TransportError, *batch[0].Error)
	assert.Contains(t, batch[0].Detail, "nil map")
	require.True(t, batch[1].OK())
	assert.Equal(t, "ok", *batch[1].Data)
}

func TestResolveAllRejectsNilData(t *testing.T) {
	t.Parallel()

	backend := BackendFunc("hollow", func(ctx context.Context, domain string) ([]string, error) {
		if domain == "empty.example" {
			return []string{}, nil
		}
		return nil, nil
	})
	batch := New[[]string](backend, WithLogger(quietLogger())).ResolveAll(context.Background(), []string{"example.com", "empty.example"})

	require.Len(t, batch, 2)
	require.NotNil(t, batch[0].Error)
	assert.Equal(t, TransportError, *batch[0].Error)
	assert.Nil(t, batch[0].Data)
	require.True(t, batch[1].OK())
	assert.Empty(t, *batch[1].Data)

	out, err := json.Marshal(batch)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"domain":"example.com","data":null,"error":"TransportError","detail":"backend returned no data"},
		{"domain":"empty.example","data":[],"error":null}
	]`, string(out))
}

func TestIsNil(t *testing.T) {
	t.Parallel()

	var nilMap map[string]int
	var nilPtr *int
	assert.True(t, isNil([]string(nil)))
	assert.True(t, isNil(nilMap))
	assert.True(t, isNil(nilPtr))
	assert.True(t, isNil[any](nil))
	assert.False(t, isNil([]string{}))
	assert.False(t, isNil(""))
	assert.False(t, isNil(0))
	assert.False(t, isNil(struct{}{}))
}

func TestResolveAllCancelledContext(t *testing.T) {
	t.Parallel()

	fake := newFake()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := New[[]string](fake, WithLogger(quietLogger())).ResolveAll(ctx, []string{"example.com", "example.org"})

	require.Len(t, batch, 2)
	for _, res := range batch {
		require.NotNil(t, res.Error)
		assert.Equal(t, TransportError, *res.Error)
	}
	assert.Empty(t, fake.calls)
}

func TestResolveAllAppliesPerLookupTimeout(t *testing.T) {
	t.Parallel()

	var deadlines []bool
	backend := BackendFunc("deadline", func(ctx context.Context, domain string) (bool, error) {
		_, ok := ctx.Deadline()
		deadlines = append(deadlines, ok)
		return ok, nil
	})

	New[bool](backend, WithLogger(quietLogger()), WithTimeout(time.Second)).
		ResolveAll(context.Background(), []string{"a.example", "b.example"})
	assert.Equal(t, []bool{true, true}, deadlines)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
	waits    int
}

func (o *recordingObserver) ObserveLookup(backend, outcome string, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[backend+"/"+outcome]++
}

func (o *recordingObserver) ObserveWait(backend string, waited time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.waits++
}

func TestResolveAllReportsToObserver(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{outcomes: map[string]int{}}
	r := New[[]string](newFake(),
		WithLogger(quietLogger()),
		WithObserver(obs),
		WithRateLimit(1000),
	)
	batch := r.ResolveAll(context.Background(), []string{"example.com", "missing.example", "bad_name", "example.com"})

	assert.Equal(t, map[string]int{
		"fake/ok":            2,
		"fake/NotFound":      1,
		"fake/InvalidDomain": 1,
	}, obs.outcomes)
	assert.Equal(t, 3, obs.waits)

	summary := batch.Summary()
	assert.Equal(t, 2, summary[OutcomeOK])
	assert.Equal(t, 1, summary["NotFound"])
	assert.Equal(t, 0, summary["Forbidden"])
	assert.Equal(t, 2, batch.Failed())
}
