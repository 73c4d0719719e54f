package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/edm/edm/internal/config"
	"github.com/edm/edm/internal/pipeline"
	"github.com/edm/edm/internal/platform/db"
	"github.com/edm/edm/internal/platform/logging"
	"github.com/edm/edm/internal/sink"
	"github.com/edm/edm/pkg/edm"
)

// errRejected is returned in strict mode when any record failed.
var errRejected = errors.New("one or more records were rejected")

type processOptions struct {
	Inputs []string
	Out    string
	Errors string
	Sink   string
	Strict bool
}

func processCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process [files...]",
		Short: "Decode, transform and re-encode event streams",
		Long: "Reads NDJSON, concatenated JSON or array-framed event files (optionally gzip or zstd\n" +
			"compressed), canonicalises every event and writes the result to the configured sink.\n" +
			"With no files, standard input is read.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			flags := cmd.Flags()
			if flags.Changed("workers") {
				cfg.Workers, _ = flags.GetInt("workers")
			}
			if flags.Changed("preserve-order") {
				cfg.PreserveOrder, _ = flags.GetBool("preserve-order")
			}
			if flags.Changed("rules") {
				cfg.RulesFile, _ = flags.GetString("rules")
			}
			if flags.Changed("dedup") {
				cfg.DedupCapacity, _ = flags.GetInt("dedup")
			}
			if flags.Changed("sink") {
				cfg.Sink, _ = flags.GetString("sink")
			}

			opts := processOptions{Inputs: args, Sink: cfg.Sink}
			opts.Out, _ = flags.GetString("out")
			opts.Errors, _ = flags.GetString("errors")
			opts.Strict, _ = flags.GetBool("strict")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := logging.New(cfg.LogLevel, cfg.Env)
			return runProcess(ctx, cfg, opts, logger, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringP("out", "o", "-", "Output file for the file sink (.gz and .zst compress)")
	cmd.Flags().String("errors", "", "Write rejected records as NDJSON to this file")
	cmd.Flags().Int("workers", 0, "Number of decode workers (default from WORKERS)")
	cmd.Flags().Bool("preserve-order", true, "Emit events in input order")
	cmd.Flags().String("rules", "", "YAML transform rules file")
	cmd.Flags().Int("dedup", 0, "Suppress duplicate events among the last N distinct events")
	cmd.Flags().String("sink", "file", "Output sink: file, postgres or redis")
	cmd.Flags().Bool("strict", false, "Exit non-zero when any record is rejected")
	return cmd
}

func runProcess(ctx context.Context, cfg *config.Config, opts processOptions, logger zerolog.Logger, stdout, stderr io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	proc, err := buildProcessor(cfg, logger, nil)
	if err != nil {
		return err
	}

	var (
		out     pipeline.Output
		errsOut pipeline.ErrorOutput
		closers []io.Closer
	)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Error().Err(err).Msg("close output")
			}
		}
	}()

	switch cfg.Sink {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		runID := uuid.New()
		pg := sink.NewPostgres(pool, runID, sink.DefaultBatchSize)
		out, errsOut = pg, pg
		logger.Info().Str("run_id", runID.String()).Msg("writing to postgres")
	case "redis":
		client, err := sink.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		out = sink.NewRedisStream(client, cfg.RedisStream, 0)
	default:
		w := stdout
		if opts.Out != "-" && opts.Out != "" {
			f, err := sink.Create(opts.Out)
			if err != nil {
				return err
			}
			w = f
			closers = append(closers, f)
		}
		out = sink.NewNDJSON(w)
	}

	if opts.Errors != "" {
		f, err := sink.Create(opts.Errors)
		if err != nil {
			return err
		}
		closers = append(closers, f)
		errsOut = sink.NewErrors(f)
	}

	inputs := opts.Inputs
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	total := pipeline.Stats{ByDomain: make(map[edm.Domain]int64)}
	for _, path := range inputs {
		stats, err := processFile(ctx, proc, path, out, errsOut)
		total.Read += stats.Read
		total.Written += stats.Written
		total.Failed += stats.Failed
		total.Dropped += stats.Dropped
		total.Duplicates += stats.Duplicates
		total.Elapsed += stats.Elapsed
		for d, n := range stats.ByDomain {
			total.ByDomain[d] += n
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	printStats(stderr, total)
	if opts.Strict && total.Failed > 0 {
		return errRejected
	}
	return nil
}

func processFile(ctx context.Context, proc *pipeline.Processor, path string, out pipeline.Output, errs pipeline.ErrorOutput) (pipeline.Stats, error) {
	r, err := pipeline.OpenInput(path)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer r.Close()
	return proc.Run(ctx, pipeline.NewSource(r), out, errs)
}

func printStats(w io.Writer, s pipeline.Stats) {
	fmt.Fprintf(w, "read %d, written %d, failed %d, dropped %d, duplicates %d in %s\n",
		s.Read, s.Written, s.Failed, s.Dropped, s.Duplicates, s.Elapsed.Round(time.Millisecond))
	for _, d := range edm.Domains() {
		if n := s.ByDomain[d]; n > 0 {
			fmt.Fprintf(w, "  %-14s %d\n", d, n)
		}
	}
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [files...]",
		Short: "Check that event files decode",
		RunE: func(cmd *cobra.Command, args []string) error {
			roundtrip, _ := cmd.Flags().GetBool("roundtrip")
			if len(args) == 0 {
				args = []string{"-"}
			}
			return runValidate(cmd.Context(), args, roundtrip, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Bool("roundtrip", false, "Also require every event to re-encode to its input bytes")
	return cmd
}

type validateReport struct {
	Records    int64
	Valid      int64
	Mismatches int64
	ByDomain   map[edm.Domain]int64
	ByKind     map[string]int64
}

func runValidate(ctx context.Context, paths []string, roundtrip bool, out io.Writer) error {
	rep := validateReport{ByDomain: make(map[edm.Domain]int64), ByKind: make(map[string]int64)}
	for _, path := range paths {
		if err := validateFile(ctx, path, roundtrip, &rep, out); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	fmt.Fprintf(out, "%d record(s), %d valid\n", rep.Records, rep.Valid)
	for _, d := range edm.Domains() {
		if n := rep.ByDomain[d]; n > 0 {
			fmt.Fprintf(out, "  %-20s %d\n", d, n)
		}
	}
	kinds := make([]string, 0, len(rep.ByKind))
	for k := range rep.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(out, "  %-20s %d\n", k, rep.ByKind[k])
	}
	if roundtrip && rep.Mismatches > 0 {
		fmt.Fprintf(out, "  %-20s %d\n", "roundtrip_mismatch", rep.Mismatches)
	}

	if rep.Valid != rep.Records {
		return fmt.Errorf("%d of %d record(s) invalid", rep.Records-rep.Valid, rep.Records)
	}
	return nil
}

func validateFile(ctx context.Context, path string, roundtrip bool, rep *validateReport, out io.Writer) error {
	r, err := pipeline.OpenInput(path)
	if err != nil {
		return err
	}
	defer r.Close()

	src := pipeline.NewSource(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		rep.Records++

		ev, err := edm.DecodeBorrowed(rec.Data)
		if err != nil {
			rep.ByKind[edm.KindOf(err).String()]++
			fmt.Fprintf(out, "%s:%d: %v\n", path, rec.Seq, err)
			continue
		}
		if roundtrip {
			enc, err := edm.Encode(ev)
			if err != nil {
				rep.ByKind[edm.KindOf(err).String()]++
				fmt.Fprintf(out, "%s:%d: %v\n", path, rec.Seq, err)
				continue
			}
			if !bytes.Equal(enc, bytes.TrimSpace(rec.Data)) {
				rep.Mismatches++
				fmt.Fprintf(out, "%s:%d: re-encoded bytes differ from input\n", path, rec.Seq)
				continue
			}
		}
		rep.Valid++
		rep.ByDomain[ev.Domain()]++
	}
}
