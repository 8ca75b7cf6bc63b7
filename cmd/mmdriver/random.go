package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/mmheap/memutils/trace"
)

var (
	randomSeed          int64
	randomOps           int
	randomMaxSize       int
	randomResizePercent int
	randomFreeAll       bool
	randomOut           string
)

func init() {
	cmd := newRandomCmd()
	cmd.Flags().Int64Var(&randomSeed, "seed", 1, "Seed for the trace generator")
	cmd.Flags().IntVar(&randomOps, "ops", 1000, "Number of operations to generate")
	cmd.Flags().IntVar(&randomMaxSize, "max-size", 512, "Largest request size in bytes")
	cmd.Flags().IntVar(&randomResizePercent, "resize-percent", 20, "Share of ops on live blocks that resize")
	cmd.Flags().BoolVar(&randomFreeAll, "free-all", false, "Free every live block at the end of the trace")
	cmd.Flags().StringVarP(&randomOut, "out", "o", "", "Write the trace to a file instead of replaying it")
	rootCmd.AddCommand(cmd)
}

func newRandomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "random",
		Short: "Generate and replay a random trace",
		Long: `The random command generates a reproducible trace of interleaved allocations,
frees and resizes from a seed. The trace is replayed against a fresh heap, or written
to a file with --out so it can be replayed later.

Example:
  mmdriver random --seed 42 --ops 1000
  mmdriver random --seed 7 --max-size 4096 --check
  mmdriver random --seed 7 --out random-7.rep`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRandom(cmd)
		},
	}
	return cmd
}

func runRandom(cmd *cobra.Command) error {
	t := trace.Random(randomSeed, trace.RandomOptions{
		Ops:           randomOps,
		MaxSize:       randomMaxSize,
		ResizePercent: randomResizePercent,
		FreeAll:       randomFreeAll,
	})

	if randomOut != "" {
		file, err := os.Create(randomOut)
		if err != nil {
			return errors.Wrap(err, "could not create trace file")
		}
		defer file.Close()

		_, err = t.WriteTo(file)
		if err != nil {
			return errors.Wrapf(err, "could not write %s", randomOut)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d ops to %s\n", len(t.Ops), randomOut)
		return file.Close()
	}

	logger := newLogger(cmd.ErrOrStderr())
	replayer := trace.NewReplayer(logger, replayOptions())

	report, err := replayOne(logger, replayer, fmt.Sprintf("random-%d", randomSeed), t)
	if err != nil {
		return err
	}

	return writeReports(cmd.OutOrStdout(), []traceReport{report})
}
