package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/auditchain/internal/audit"
	"github.com/jmerrifield20/auditchain/internal/bootstrap"
	"github.com/jmerrifield20/auditchain/internal/chain"
	"github.com/jmerrifield20/auditchain/internal/correlation"
	"github.com/jmerrifield20/auditchain/internal/diffhash"
	"github.com/jmerrifield20/auditchain/internal/digest"
)

// ── diffhash ────────────────────────────────────────────────────────────────

func newDiffHashCmd(opts *options) *cobra.Command {
	var algorithm string
	cmd := &cobra.Command{
		Use:   "diffhash <before.json> <after.json>",
		Short: "Compute the audit diff hash of two JSON snapshots",
		Long: `diffhash prints the diff hash an audit entry would carry for the given
before and after snapshots. A file containing null stands for an absent
snapshot (creation or deletion).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			alg, err := digest.Parse(algorithm)
			if err != nil {
				return err
			}
			before, err := readSnapshot(args[0])
			if err != nil {
				return err
			}
			after, err := readSnapshot(args[1])
			if err != nil {
				return err
			}
			sum := diffhash.New(alg).Compute(before, after)
			out := map[string]string{"algorithm": string(alg), "diffHash": sum}
			return opts.render(cmd.OutOrStdout(), out, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, sum)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", string(digest.Default), "hash algorithm: sha256, sha3-256 or blake2b-256")
	return cmd
}

func readSnapshot(path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return v, nil
}

// ── correlation-id ──────────────────────────────────────────────────────────

func newCorrelationIDCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "correlation-id",
		Short: "Print a new correlation id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := correlation.New()
			return opts.render(cmd.OutOrStdout(), map[string]string{"correlationId": id}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, id)
				return err
			})
		},
	}
}

// ── chains ──────────────────────────────────────────────────────────────────

func newChainsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "List chains in the configured store and verify each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			src, err := opts.chainSource(ctx)
			if err != nil {
				return err
			}
			defer src.close() //nolint:errcheck

			heads, err := src.chains(ctx)
			if err != nil {
				return err
			}
			type row struct {
				Chain  string `json:"chain"`
				Length int64  `json:"length"`
				Head   string `json:"head"`
				Valid  bool   `json:"valid"`
				Error  string `json:"error,omitempty"`
			}
			rows := make([]row, 0, len(heads))
			broken := 0
			for _, h := range heads {
				r := row{Chain: h.Chain, Length: h.Length, Head: h.Hash, Valid: true}
				if err := src.verify(ctx, h.Chain); err != nil {
					r.Valid, r.Error = false, err.Error()
					broken++
				}
				rows = append(rows, r)
			}

			if err := opts.render(cmd.OutOrStdout(), rows, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "CHAIN\tLENGTH\tHEAD\tSTATUS")
				for _, r := range rows {
					status := "OK"
					if !r.Valid {
						status = "TAMPERED"
					}
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", r.Chain, r.Length, r.Head, status)
				}
				return tw.Flush()
			}); err != nil {
				return err
			}
			if broken > 0 {
				return fmt.Errorf("%d chain(s) failed verification", broken)
			}
			return nil
		},
	}
}

// ── export ──────────────────────────────────────────────────────────────────

func newExportCmd(opts *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <chain>",
		Short: "Export a verified chain from the configured store",
		Long: `export writes a self-verifiable JSON copy of one chain. A chain that fails
verification is not exported. With --server the export is fetched from
auditd and re-verified locally before it is written.

Examples:
  chainctl export attendance/tenant-T/session-S --out attendance.json
  chainctl export grades/tenant-T/student-S --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			src, err := opts.chainSource(ctx)
			if err != nil {
				return err
			}
			defer src.close() //nolint:errcheck

			x, err := src.export(ctx, args[0])
			if err != nil {
				return err
			}

			if out != "" {
				raw, err := json.MarshalIndent(x, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, append(raw, '\n'), 0o644); err != nil {
					return fmt.Errorf("write export: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %s (%d records, head %s) to %s\n", x.Chain, x.Length, x.Head, out)
				return nil
			}
			return opts.render(cmd.OutOrStdout(), x, func(w io.Writer) error {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(x)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the export to this file instead of stdout")
	return cmd
}

// ── group ───────────────────────────────────────────────────────────────────

func newGroupCmd(opts *options) *cobra.Command {
	var jsonlPath string
	cmd := &cobra.Command{
		Use:   "group <correlation-id>",
		Short: "Show every audit entry of one logical operation",
		Long: `group lists the audit entries sharing a correlation id, oldest first. Entries
are read from a JSON lines audit file with --jsonl, from auditd with --server,
otherwise from the configured sink when it can be queried (memory or
postgres).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, ok := correlation.Normalize(args[0])
			if !ok {
				return fmt.Errorf("%q is not a correlation id", args[0])
			}

			var (
				g   *audit.Group
				err error
			)
			switch {
			case jsonlPath != "":
				g, err = groupFromFile(jsonlPath, id)
			case opts.server != "":
				g, err = opts.groupFromServer(id)
			default:
				g, err = opts.groupFromSink(id)
			}
			if err != nil {
				return err
			}

			return opts.render(cmd.OutOrStdout(), g, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "TIMESTAMP\tACTOR\tACTION\tTARGET\tDIFF HASH")
				for _, e := range g.Entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						e.Timestamp.Format("2006-01-02T15:04:05.000000Z07:00"), e.Actor, e.Action, e.Target, e.DiffHash)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&jsonlPath, "jsonl", "", "read entries from this JSON lines audit file")
	return cmd
}

func groupFromFile(path, id string) (*audit.Group, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	entries, err := audit.ReadJSONL(f)
	if err != nil {
		return nil, err
	}
	mem := audit.NewMemorySink()
	for i := range entries {
		if entries[i].CorrelationID == id {
			mem.Write(context.Background(), &entries[i]) //nolint:errcheck
		}
	}
	return mem.Group(context.Background(), id)
}

func (o *options) groupFromSink(id string) (*audit.Group, error) {
	ctx := context.Background()
	comps, err := o.build(ctx)
	if err != nil {
		return nil, err
	}
	defer comps.Close() //nolint:errcheck

	if comps.Querier == nil {
		return nil, fmt.Errorf("the configured sink cannot be queried; use --jsonl")
	}
	return comps.Querier.Group(ctx, id)
}

func (o *options) groupFromServer(id string) (*audit.Group, error) {
	c, _, err := o.remote()
	if err != nil {
		return nil, err
	}
	return c.Group(context.Background(), id)
}

// chainSource reads chains from auditd or from the configured store.
type chainSource struct {
	chains func(ctx context.Context) ([]chain.ChainHead, error)
	verify func(ctx context.Context, name string) error
	export func(ctx context.Context, name string) (*chain.Export, error)
	close  func() error
}

func (o *options) chainSource(ctx context.Context) (*chainSource, error) {
	c, ok, err := o.remote()
	if err != nil {
		return nil, err
	}
	if ok {
		return &chainSource{
			chains: c.Chains,
			verify: func(ctx context.Context, name string) error {
				res, err := c.Verify(ctx, name)
				if err != nil {
					return err
				}
				if !res.Valid {
					return errors.New(res.Error)
				}
				return nil
			},
			export: c.VerifiedExport,
			close:  func() error { return nil },
		}, nil
	}

	comps, err := o.build(ctx)
	if err != nil {
		return nil, err
	}
	return &chainSource{
		chains: comps.Ledger.Chains,
		verify: comps.Ledger.VerifyChain,
		export: comps.Ledger.Export,
		close:  comps.Close,
	}, nil
}

func (o *options) build(ctx context.Context) (*bootstrap.Components, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(ctx, cfg, o.logger())
}
