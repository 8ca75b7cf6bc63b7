package main

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/mmheap/memutils"
	"github.com/vkngwrapper/mmheap/memutils/trace"
	"golang.org/x/exp/slog"
)

type traceReport struct {
	Name   string
	Weight int
	Result *trace.Result
	Heap   memutils.DetailedStatistics
}

// replayOne replays a trace against a fresh heap built from the global flags
func replayOne(logger *slog.Logger, replayer *trace.Replayer, name string, t *trace.Trace) (traceReport, error) {
	h, err := newHeap(logger)
	if err != nil {
		return traceReport{}, err
	}

	result, err := replayer.Replay(h, t)
	if err != nil {
		return traceReport{}, errors.Wrapf(err, "replay of %s failed", name)
	}

	report := traceReport{
		Name:   name,
		Weight: t.Weight,
		Result: result,
	}
	report.Heap.Clear()
	h.AddDetailedStatistics(&report.Heap)

	return report, nil
}

// summarize returns the weighted mean utilization and the overall throughput of the reports
func summarize(reports []traceReport) (float64, float64) {
	var weightedUtil float64
	var totalWeight, totalOps int
	var totalSeconds float64

	for _, report := range reports {
		weight := report.Weight
		if weight <= 0 {
			weight = 1
		}

		weightedUtil += float64(weight) * report.Result.Utilization()
		totalWeight += weight
		totalOps += report.Result.Ops
		totalSeconds += report.Result.Elapsed.Seconds()
	}

	var util, throughput float64
	if totalWeight > 0 {
		util = weightedUtil / float64(totalWeight)
	}
	if totalSeconds > 0 {
		throughput = float64(totalOps) / totalSeconds
	}

	return util, throughput
}

func writeReports(w io.Writer, reports []traceReport) error {
	if jsonOut {
		_, err := w.Write(buildReportJson(reports))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w)
		return err
	}

	fmt.Fprintf(w, "%-24s %8s %10s %12s %8s %14s\n", "trace", "ops", "peak", "arena", "util", "ops/sec")
	for _, report := range reports {
		result := report.Result
		fmt.Fprintf(w, "%-24s %8d %10d %12d %7.1f%% %14.0f\n",
			report.Name, result.Ops, result.PeakLiveBytes, result.ArenaBytes,
			100*result.Utilization(), result.Throughput())
	}

	util, throughput := summarize(reports)
	_, err := fmt.Fprintf(w, "%-24s %8s %10s %12s %7.1f%% %14.0f\n", "total", "", "", "", 100*util, throughput)
	return err
}

func buildReportJson(reports []traceReport) []byte {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	traces := obj.Name("Traces").Array()
	for i := range reports {
		report := &reports[i]

		traceObj := traces.Object()
		traceObj.Name("Name").String(report.Name)
		traceObj.Name("Weight").Int(report.Weight)
		report.Result.PrintJson(&traceObj)

		heapObj := traceObj.Name("Heap").Object()
		report.Heap.PrintJson(&heapObj)
		heapObj.End()

		traceObj.End()
	}
	traces.End()

	util, throughput := summarize(reports)
	summaryObj := obj.Name("Summary").Object()
	summaryObj.Name("Utilization").Float64(util)
	summaryObj.Name("OpsPerSecond").Float64(throughput)
	summaryObj.End()

	obj.End()

	return writer.Bytes()
}
