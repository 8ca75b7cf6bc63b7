package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vkngwrapper/mmheap/memutils/arena"
	"github.com/vkngwrapper/mmheap/memutils/heap"
	"github.com/vkngwrapper/mmheap/memutils/trace"
	"golang.org/x/exp/slog"
)

var (
	// Global flags
	verbose   bool
	jsonOut   bool
	check     bool
	limit     int
	chunkSize int
	placement string
)

var rootCmd = &cobra.Command{
	Use:   "mmdriver",
	Short: "Replay allocation traces against the segregated-fit heap",
	Long: `mmdriver replays allocation traces against the segregated-fit heap allocator
and reports peak memory utilization and throughput for each trace. Traces can be
read from files or generated from a seed.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log allocator activity to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		BoolVar(&check, "check", false, "Validate the heap and block contents after every op")
	rootCmd.PersistentFlags().IntVar(&limit, "limit", arena.DefaultLimit, "Maximum arena size in bytes")
	rootCmd.PersistentFlags().
		IntVar(&chunkSize, "chunk", heap.DefaultChunkSize, "Minimum arena growth in bytes (power of two)")
	rootCmd.PersistentFlags().
		StringVar(&placement, "placement", heap.PlacementLow.String(), "Split placement: Low, High or NearestNeighbor")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newLogger builds the logger shared by the heap and the replayer
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.HandlerOptions{Level: level}.NewTextHandler(w))
}

// newHeap creates a fresh arena and heap from the global flags
func newHeap(logger *slog.Logger) (*heap.Heap, error) {
	splitPlacement, ok := heap.ParsePlacement(placement)
	if !ok {
		return nil, errors.Errorf("unknown placement %q", placement)
	}

	return heap.New(logger, arena.New(limit), heap.CreateOptions{
		ChunkSize: chunkSize,
		Placement: splitPlacement,
	})
}

func replayOptions() trace.ReplayOptions {
	return trace.ReplayOptions{
		ValidateEachOp: check,
		CheckPayload:   check,
	}
}
