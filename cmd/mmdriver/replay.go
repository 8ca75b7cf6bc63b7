package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vkngwrapper/mmheap/memutils/trace"
)

func init() {
	rootCmd.AddCommand(newReplayCmd())
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <trace>...",
		Short: "Replay trace files",
		Long: `The replay command replays each trace file against a fresh heap and
reports the peak utilization and throughput of each, followed by a weighted summary.

Example:
  mmdriver replay traces/amptjp-bal.rep traces/binary-bal.rep
  mmdriver replay --check --placement NearestNeighbor traces/*.rep
  mmdriver replay --json traces/realloc-bal.rep`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, args)
		},
	}
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	logger := newLogger(cmd.ErrOrStderr())
	replayer := trace.NewReplayer(logger, replayOptions())

	var reports []traceReport
	for _, path := range args {
		t, err := trace.ParseFile(path)
		if err != nil {
			return err
		}

		report, err := replayOne(logger, replayer, filepath.Base(path), t)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}

	return writeReports(cmd.OutOrStdout(), reports)
}
