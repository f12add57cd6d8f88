package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"ffqueue/internal/api"
	"ffqueue/internal/queuesync"
)

var queueListColumns = []tableColumn{
	{header: "ID"},
	{header: "File", maxWidth: 40},
	{header: "Preset"},
	{header: "Status"},
	{header: "Progress", align: alignRight},
	{header: "Order", align: alignRight},
}

func buildQueueListRows(jobs []queuesync.JobLite) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		order := "-"
		if job.QueueOrder != nil {
			order = fmt.Sprintf("%d", *job.QueueOrder)
		}
		rows = append(rows, []string{
			job.ID,
			job.Filename,
			job.PresetID,
			jobStatusText(job),
			fmt.Sprintf("%.1f%%", job.Progress),
			order,
		})
	}
	return rows
}

// jobStatusText annotates the status with why a job stopped.
func jobStatusText(job queuesync.JobLite) string {
	label := statusLabel(job.Status)
	switch {
	case job.AutoPaused:
		return label + " (auto)"
	case job.Failure != nil:
		return fmt.Sprintf("%s (%s)", label, job.Failure.Kind)
	default:
		return label
	}
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format(time.DateTime)
}

func printJobDetail(out io.Writer, detail *api.JobDetail, colorize bool) {
	for _, line := range renderSectionHeader("Job "+detail.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(detail.Status), jobStatusText(detail.JobLite), colorize))
	fmt.Fprintln(out, renderStatusLine("Input", statusInfo, detail.InputPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Output", statusInfo, detail.OutputPath, colorize))
	fmt.Fprintln(out, renderStatusLine("Preset", statusInfo, fmt.Sprintf("%s (%s)", detail.PresetID, detail.Type), colorize))
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%.1f%%", detail.Progress), colorize))
	fmt.Fprintln(out, renderStatusLine("Added", statusInfo, formatMillis(detail.StartTime), colorize))
	if detail.EndTime != nil {
		fmt.Fprintln(out, renderStatusLine("Finished", statusInfo, formatMillis(*detail.EndTime), colorize))
	}
	if detail.Failure != nil {
		fmt.Fprintln(out, renderStatusLine("Failure", statusError, detail.Failure.Reason, colorize))
	}
	for _, w := range detail.Warnings {
		fmt.Fprintln(out, renderStatusLine("Warning", statusWarn, fmt.Sprintf("%s: %s", w.Code, w.Message), colorize))
	}
	if detail.Wait != nil {
		resume := "restart from zero"
		if detail.Wait.Resumable {
			resume = fmt.Sprintf("resume at %.1fs of %.1fs", detail.Wait.ProcessedSeconds, detail.Wait.TargetSeconds)
		}
		fmt.Fprintln(out, renderStatusLine("Resume", statusInfo, fmt.Sprintf("%s, %d segment(s)", resume, len(detail.Segments)), colorize))
	}

	if len(detail.Runs) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(detail.Runs))
		for i, run := range detail.Runs {
			rows = append(rows, []string{
				fmt.Sprintf("%d", i+1),
				formatMillis(run.StartedMs),
				formatMillis(run.EndedMs),
				fmt.Sprintf("%.1f", run.ResumeFromSeconds),
				run.Outcome,
			})
		}
		fmt.Fprint(out, renderTable([]tableColumn{
			{header: "#", align: alignRight},
			{header: "Started"},
			{header: "Ended"},
			{header: "From (s)", align: alignRight},
			{header: "Outcome"},
		}, rows))
		fmt.Fprintln(out)
	}

	if tail := strings.TrimSpace(detail.LogTail); tail != "" {
		fmt.Fprintln(out)
		for _, line := range renderSectionHeader("Log tail", colorize) {
			fmt.Fprintln(out, line)
		}
		fmt.Fprintln(out, tail)
	}
}

func printActionResult(out io.Writer, action string, resp api.BulkResponse) {
	for _, id := range resp.Accepted {
		fmt.Fprintf(out, "%s: %s accepted\n", id, action)
	}
	for _, id := range resp.Rejected {
		fmt.Fprintf(out, "%s: %s rejected (unknown job or not allowed in its current state)\n", id, action)
	}
}
