package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"ffqueue/internal/ipc"
	"ffqueue/internal/queuesync"
)

const watchPollWait = 25 * time.Second

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var updates int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow queue changes as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				// Closing the client unblocks a pending long-poll on interrupt.
				interrupted := cmd.Context()
				stop := context.AfterFunc(interrupted, func() { _ = client.Close() })
				defer stop()

				w := &queueWatcher{client: client, mirror: queuesync.NewMirror(), out: cmd.OutOrStdout()}
				if err := w.resync(); err != nil {
					return err
				}
				for seen := 0; updates <= 0 || seen < updates; {
					changed, err := w.poll()
					if interrupted.Err() != nil {
						return nil
					}
					if err != nil {
						return err
					}
					if changed {
						seen++
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&updates, "updates", "n", 0, "Exit after this many updates (0 follows forever)")
	return cmd
}

type queueWatcher struct {
	client *ipc.Client
	mirror *queuesync.Mirror
	out    io.Writer
}

func (w *queueWatcher) resync() error {
	snap, err := w.client.State(nil)
	if err != nil {
		return err
	}
	w.applySnapshot(*snap)
	return nil
}

func (w *queueWatcher) applySnapshot(snap queuesync.Snapshot) {
	// A daemon restart starts revisions over.
	if !w.mirror.ApplySnapshot(snap) {
		w.mirror.Invalidate()
		w.mirror.ApplySnapshot(snap)
	}
	fmt.Fprintf(w.out, "rev %d: %d job(s)\n", snap.Revision, len(snap.Jobs))
	for _, job := range snap.Jobs {
		w.printJob(job)
	}
}

// poll waits for the next change and reports whether anything was printed.
func (w *queueWatcher) poll() (bool, error) {
	resp, err := w.client.Changes(w.mirror.Revision(), watchPollWait)
	if err != nil {
		return false, err
	}
	if resp.Snapshot != nil {
		w.applySnapshot(*resp.Snapshot)
		return true, nil
	}
	if resp.Delta == nil || resp.Delta.Empty() {
		return false, nil
	}
	if err := w.mirror.ApplyDelta(resp.Delta); err != nil {
		if errors.Is(err, queuesync.ErrResyncRequired) {
			return true, w.resync()
		}
		return false, err
	}
	w.printDelta(resp.Delta)
	return true, nil
}

func (w *queueWatcher) printDelta(d *queuesync.Delta) {
	fmt.Fprintf(w.out, "rev %d:\n", d.Revision)
	for _, job := range d.Added {
		w.printJob(job)
	}
	for _, patch := range d.Patches {
		if job, ok := w.mirror.Job(patch.ID); ok {
			w.printJob(job)
		}
	}
	for _, id := range d.Removed {
		fmt.Fprintf(w.out, "  %-10s removed\n", id)
	}
}

func (w *queueWatcher) printJob(job queuesync.JobLite) {
	fmt.Fprintf(w.out, "  %-10s %-22s %6.1f%%  %s\n", job.ID, jobStatusText(job), job.Progress, job.Filename)
}
