/*
Package main is the entry point for the domlookup command-line application.

domlookup looks up an ordered batch of domain names against one backend and
prints a single JSON array with one record per input domain, in input order:

  - ns: NS records via a recursive DNS resolver.
  - rdap: registration data from an RDAP service.

Per-domain failures are classified (InvalidDomain, NotFound, NoAnswer,
Forbidden, TransportError) and reported as data; only batch-level problems
such as an unreadable domains file make the command fail.

Domains come from positional arguments, --file, or standard input. The
resolver runs strictly sequentially, optionally paced with --rate-limit.
Prometheus metrics can be served during the run (--metrics-addr) or written to
a node_exporter textfile afterwards (--metrics-textfile).
*/
package main

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
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/x-stp/domlookup/internal/client"
	"github.com/x-stp/domlookup/internal/dnsns"
	"github.com/x-stp/domlookup/internal/input"
	"github.com/x-stp/domlookup/internal/lookup"
	"github.com/x-stp/domlookup/internal/metrics"
	"github.com/x-stp/domlookup/internal/output"
	"github.com/x-stp/domlookup/internal/rdap"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 10 * time.Second

const metricsShutdownTimeout = 5 * time.Second

// globalOptions holds the persistent flags shared by every lookup command.
type globalOptions struct {
	verbose         bool
	file            string
	output          string
	timeout         time.Duration
	rateLimit       float64
	metricsAddr     string
	metricsTextfile string
}

type nsOptions struct {
	resolver string
	tcp      bool
}

type rdapOptions struct {
	baseURL     string
	registrable bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "domlookup",
		Short:         "domlookup - batch DNS NS and RDAP lookups with per-domain error classification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging on stderr")
	flags.StringVarP(&opts.file, "file", "f", "", "Read domains from file, one per line (\"-\" for stdin)")
	flags.StringVarP(&opts.output, "output", "o", "", "Write JSON results to file instead of stdout")
	flags.DurationVar(&opts.timeout, "timeout", DefaultTimeout, "Deadline for a single lookup")
	flags.Float64Var(&opts.rateLimit, "rate-limit", 0, "Maximum lookups per second (0 for unpaced)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	flags.StringVar(&opts.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after the run")

	rootCmd.AddCommand(newNSCmd(opts))
	rootCmd.AddCommand(newRDAPCmd(opts))
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newNSCmd(opts *globalOptions) *cobra.Command {
	nsOpts := &nsOptions{}
	cmd := &cobra.Command{
		Use:   "ns [domain...]",
		Short: "Look up the NS records of each domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), opts.verbose)
			backend, err := dnsns.New(dnsns.Config{
				Server:  nsOpts.resolver,
				TCP:     nsOpts.tcp,
				Timeout: opts.timeout,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			logger.Debug("using resolver", "server", backend.Server(), "tcp", nsOpts.tcp)
			return runBatch[[]string](cmd, opts, logger, backend, args)
		},
	}
	cmd.Flags().StringVar(&nsOpts.resolver, "resolver", "", "Resolver address host[:port] (default: first nameserver in "+dnsns.ResolvConfPath+")")
	cmd.Flags().BoolVar(&nsOpts.tcp, "tcp", false, "Query over TCP instead of UDP")
	return cmd
}

func newRDAPCmd(opts *globalOptions) *cobra.Command {
	rdapOpts := &rdapOptions{}
	cmd := &cobra.Command{
		Use:   "rdap [domain...]",
		Short: "Fetch RDAP registration details of each domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), opts.verbose)
			client.InitHTTPClient(&client.Config{RequestTimeout: opts.timeout})
			backend, err := rdap.New(rdap.Config{
				BaseURL:     rdapOpts.baseURL,
				Registrable: rdapOpts.registrable,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			return runBatch[rdap.Details](cmd, opts, logger, backend, args)
		},
	}
	cmd.Flags().StringVar(&rdapOpts.baseURL, "rdap-url", rdap.DefaultBaseURL, "RDAP service base URL")
	cmd.Flags().BoolVar(&rdapOpts.registrable, "registrable", false, "Query the registrable domain (eTLD+1) instead of the name given")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "domlookup %s\n", version)
			return err
		},
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// runBatch collects the domains, resolves them against backend and writes the
// results. Errors returned here are batch-fatal.
func runBatch[T any](cmd *cobra.Command, opts *globalOptions, logger *slog.Logger, backend lookup.Backend[T], args []string) error {
	stdin := cmd.InOrStdin()
	stdinIsTerminal := false
	if f, ok := stdin.(*os.File); ok {
		stdinIsTerminal = input.IsTerminal(f)
	}
	domains, err := input.Collect(input.Source{
		Args:            args,
		File:            opts.file,
		Stdin:           stdin,
		StdinIsTerminal: stdinIsTerminal,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Setup signal handling for graceful shutdown; remaining lookups become TransportError.
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)
	go func() {
		select {
		case <-signalChan:
			logger.Warn("interrupt received, abandoning remaining lookups")
			cancel()
		case <-ctx.Done():
		}
	}()

	m := metrics.New()
	if opts.metricsAddr != "" {
		if err := m.StartServer(opts.metricsAddr, logger); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer shutdownCancel()
			if err := m.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", "err", err)
			}
		}()
	}
	m.SetBatchSize(backend.Name(), len(domains))

	resolver := lookup.New(backend,
		lookup.WithLogger(logger),
		lookup.WithRateLimit(opts.rateLimit),
		lookup.WithObserver(m),
		lookup.WithTimeout(opts.timeout),
	)

	logger.Debug("starting batch", "backend", backend.Name(), "domains", len(domains), "rate_limit", opts.rateLimit)
	start := time.Now()
	batch := resolver.ResolveAll(ctx, domains)

	if err := output.Write(cmd.OutOrStdout(), opts.output, batch); err != nil {
		return err
	}

	attrs := []any{
		"backend", backend.Name(),
		"domains", len(batch),
		"failed", batch.Failed(),
		"elapsed", time.Since(start).Round(time.Millisecond),
	}
	summary := batch.Summary()
	attrs = append(attrs, lookup.OutcomeOK, summary[lookup.OutcomeOK])
	for _, kind := range lookup.Kinds {
		if n := summary[kind.String()]; n > 0 {
			attrs = append(attrs, kind.String(), n)
		}
	}
	if digest, err := batch.Digest(); err == nil {
		attrs = append(attrs, "digest", digest)
	}
	logger.Info("batch complete", attrs...)

	if opts.metricsTextfile != "" {
		if err := m.WriteTextfile(opts.metricsTextfile); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
