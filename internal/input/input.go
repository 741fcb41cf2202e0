/*
Package input collects the ordered list of domains for a batch from command
line arguments, a domains file and standard input.

Files are line oriented: surrounding whitespace is trimmed, blank lines and
lines starting with '#' are skipped. Everything else is passed through
verbatim; validation happens later, per domain, so a malformed line becomes an
InvalidDomain record instead of failing the batch.
*/
package input

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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// StdinName is the file name that selects standard input.
const StdinName = "-"

// ErrNoDomains is returned by Collect when no source produced any domain
// and there was no source to read from.
var ErrNoDomains = errors.New("no domains given: pass them as arguments, with --file, or on stdin")

// Source describes where a batch's domains come from.
type Source struct {
	Args  []string
	File  string
	Stdin io.Reader
	// StdinIsTerminal reports whether Stdin is interactive. An interactive
	// stdin is never read implicitly.
	StdinIsTerminal bool
}

// ReadDomains reads one domain per line from r. Lines have no length limit;
// an oversized line is passed on and rejected later as an invalid domain.
func ReadDomains(r io.Reader) ([]string, error) {
	var domains []string
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if d := strings.TrimSpace(line); d != "" && !strings.HasPrefix(d, "#") {
			domains = append(domains, d)
		}
		if errors.Is(err, io.EOF) {
			return domains, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ReadFile reads domains from the named file.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open domains file %q: %w", path, err)
	}
	defer f.Close()

	domains, err := ReadDomains(f)
	if err != nil {
		return nil, fmt.Errorf("failed reading domains file %q: %w", path, err)
	}
	return domains, nil
}

// Collect concatenates arguments, then the file, then stdin. Stdin is read
// when File is "-", or when neither arguments nor a file were given and stdin
// is not a terminal.
//
// An empty result is not an error when a source was actually read: an empty
// file is a valid, empty batch.
func Collect(src Source) ([]string, error) {
	domains := make([]string, 0, len(src.Args))
	for _, arg := range src.Args {
		if d := strings.TrimSpace(arg); d != "" {
			domains = append(domains, d)
		}
	}

	switch {
	case src.File == StdinName:
		if src.Stdin == nil {
			return nil, errors.New("stdin requested but not available")
		}
		more, err := ReadDomains(src.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed reading domains from stdin: %w", err)
		}
		domains = append(domains, more...)
	case src.File != "":
		more, err := ReadFile(src.File)
		if err != nil {
			return nil, err
		}
		domains = append(domains, more...)
	case len(src.Args) == 0:
		if src.Stdin == nil || src.StdinIsTerminal {
			return nil, ErrNoDomains
		}
		more, err := ReadDomains(src.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed reading domains from stdin: %w", err)
		}
		domains = append(domains, more...)
	}
	return domains, nil
}
