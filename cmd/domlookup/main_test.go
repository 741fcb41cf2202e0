package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Domain string          `json:"domain"`
	Data   json.RawMessage `json:"data"`
	Error  *string         `json:"error"`
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func decode(t *testing.T, out string) []record {
	t.Helper()
	var records []record
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	return records
}

func newRegistry(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/domain/example.com":
			_, _ = io.WriteString(w, `{"objectClassName":"domain","ldhName":"EXAMPLE.COM","nameservers":[{"objectClassName":"nameserver","ldhName":"B.IANA-SERVERS.NET"},{"objectClassName":"nameserver","ldhName":"A.IANA-SERVERS.NET"}]}`)
		case "/domain/denied.example":
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "domlookup dev\n", out)
}

func TestRDAPBatchFromFile(t *testing.T) {
	srv := newRegistry(t)
	path := filepath.Join(t.TempDir(), "domains.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n# first\nexample.com\n\n# second\nmissing.example\n"), 0o644))

	out, stderr, err := execute(t, "", "rdap", "--rdap-url", srv.URL, "-f", path, "denied.example", "not a domain")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.Contains(t, out, "\n  {\n    \"domain\"")

	records := decode(t, out)
	require.Len(t, records, 4)

	// arguments first, then the file
	assert.Equal(t, "denied.example", records[0].Domain)
	assert.Equal(t, "Forbidden", *records[0].Error)
	assert.Equal(t, "not a domain", records[1].Domain)
	assert.Equal(t, "InvalidDomain", *records[1].Error)
	assert.Equal(t, "example.com", records[2].Domain)
	assert.Nil(t, records[2].Error)
	var details struct {
		Nameservers []string `json:"nameservers"`
	}
	require.NoError(t, json.Unmarshal(records[2].Data, &details))
	assert.Equal(t, []string{"a.iana-servers.net", "b.iana-servers.net"}, details.Nameservers)
	assert.Equal(t, "missing.example", records[3].Domain)
	assert.Equal(t, "NotFound", *records[3].Error)
	assert.Equal(t, "null", string(records[3].Data))

	assert.Contains(t, stderr, "batch complete")
}

func TestRDAPBatchFromStdinToFile(t *testing.T) {
	srv := newRegistry(t)
	dir := t.TempDir()
	outPath := filepath.Join(dir, "results.json")
	promPath := filepath.Join(dir, "domlookup.prom")

	out, _, err := execute(t, "example.com\n",
		"rdap", "--rdap-url", srv.URL, "-o", outPath, "--metrics-textfile", promPath)
	require.NoError(t, err)
	assert.Empty(t, out)

	b, err := os.ReadFile(outPath)
	require.NoError(t, err)
	records := decode(t, string(b))
	require.Len(t, records, 1)
	assert.Nil(t, records[0].Error)

	prom, err := os.ReadFile(promPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), `domlookup_lookups_total{backend="rdap",outcome="ok"} 1`)
}

func TestEmptyInputPrintsEmptyArray(t *testing.T) {
	out, _, err := execute(t, "# nothing here\n\n", "ns", "--resolver", "127.0.0.1:1")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", out)
}

func TestNSInvalidDomainsNeverQueried(t *testing.T) {
	// 127.0.0.1:1 has no listener; only invalid names means no query is sent.
	out, _, err := execute(t, "", "ns", "--resolver", "127.0.0.1:1", "--", "-bad-.example", "localhost")
	require.NoError(t, err)
	records := decode(t, out)
	require.Len(t, records, 2)
	for _, r := range records {
		require.NotNil(t, r.Error)
		assert.Equal(t, "InvalidDomain", *r.Error)
	}
}

func TestMissingFileIsFatal(t *testing.T) {
	out, _, err := execute(t, "", "ns", "--resolver", "127.0.0.1:1", "-f", filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.Empty(t, out)
}

func TestBadRDAPURLIsFatal(t *testing.T) {
	_, _, err := execute(t, "", "rdap", "--rdap-url", "ftp://example.com", "example.com")
	require.Error(t, err)
}
