package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ffqueue/internal/api"
	"ffqueue/internal/config"
	"ffqueue/internal/ipc"
	"ffqueue/internal/queue"
	"ffqueue/internal/queuesync"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage transcode jobs",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	for _, action := range []string{api.ActionWait, api.ActionResume, api.ActionRestart, api.ActionCancel, api.ActionDelete} {
		queueCmd.AddCommand(newQueueActionCommand(ctx, action))
	}
	queueCmd.AddCommand(newQueueReorderCommand(ctx))

	return queueCmd
}

// withClientOrStore dials the daemon and falls back to the queue database
// when no daemon is listening.
func (c *commandContext) withClientOrStore(online func(*ipc.Client) error, offline func(*queue.Store) error) error {
	client, err := ipc.Dial(c.socketPath())
	if err == nil {
		defer client.Close()
		return online(client)
	}
	cfg, cfgErr := c.ensureConfig()
	if cfgErr != nil {
		return cfgErr
	}
	store, openErr := queue.Open(cfg)
	if openErr != nil {
		return errors.Join(wrapDialError(err, c.socketPath()), openErr)
	}
	defer store.Close()
	return offline(store)
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in queue order",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := make([]queue.Status, 0, len(statuses))
			for _, raw := range statuses {
				status, err := queue.ParseStatus(raw)
				if err != nil {
					return err
				}
				filter = append(filter, status)
			}

			var snap queuesync.Snapshot
			err := ctx.withClientOrStore(
				func(client *ipc.Client) error {
					resp, err := client.State(statuses)
					if err != nil {
						return err
					}
					snap = *resp
					return nil
				},
				func(store *queue.Store) error {
					res, err := store.Load(cmd.Context())
					if err != nil {
						return err
					}
					snap = offlineSnapshot(res.Jobs, filter)
					return nil
				},
			)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd, snap)
			}
			if len(snap.Jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable(queueListColumns, buildQueueListRows(snap.Jobs)))
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Only list jobs with these statuses")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the snapshot as JSON")
	return cmd
}

func offlineSnapshot(jobs []*queue.Job, filter []queue.Status) queuesync.Snapshot {
	snap := queuesync.Snapshot{Jobs: make([]queuesync.JobLite, 0, len(jobs))}
	for _, job := range jobs {
		lite := queuesync.ToLite(job)
		if len(filter) > 0 && !containsStatus(filter, lite.Status) {
			continue
		}
		snap.Jobs = append(snap.Jobs, lite)
	}
	return snap
}

func containsStatus(list []queue.Status, s queue.Status) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var req api.EnqueueRequest
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "add <input>",
		Short: "Enqueue a file for transcoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := absPath(args[0])
			if err != nil {
				return err
			}
			req.InputPath = input
			if req.OutputPath != "" {
				if req.OutputPath, err = absPath(req.OutputPath); err != nil {
					return err
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Enqueue(req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%s) -> %s\n", resp.Job.ID, resp.Job.Filename, resp.Job.OutputPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&req.PresetID, "preset", "p", "", "Preset id to encode with")
	cmd.Flags().StringVarP(&req.OutputPath, "output", "o", "", "Output path (derived from the input when empty)")
	cmd.Flags().StringVar(&req.Type, "type", "", "Media type: video, image or audio (inferred when empty)")
	cmd.Flags().StringVar(&req.Source, "source", string(queue.SourceManual), "Job source: manual or batch")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the created job as JSON")
	_ = cmd.MarkFlagRequired("preset")
	return cmd
}

func absPath(p string) (string, error) {
	expanded, err := config.ExpandPath(strings.TrimSpace(p))
	if err != nil {
		return "", err
	}
	if expanded == "" {
		return "", errors.New("path is required")
	}
	return expanded, nil
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job with its runs and log excerpts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				detail, err := client.Job(args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, detail)
				}
				printJobDetail(cmd.OutOrStdout(), detail, shouldColorize(cmd.OutOrStdout()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	return cmd
}

var actionSummaries = map[string]string{
	api.ActionWait:    "Pause jobs, keeping progress for a later resume",
	api.ActionResume:  "Requeue paused jobs",
	api.ActionRestart: "Requeue jobs from the beginning",
	api.ActionCancel:  "Cancel jobs",
	api.ActionDelete:  "Remove finished jobs and their leftover partial files",
}

func newQueueActionCommand(ctx *commandContext, action string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   action + " <id>...",
		Short: actionSummaries[action],
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				var resp api.BulkResponse
				if len(args) == 1 {
					single, err := client.Action(action, args[0])
					if err != nil {
						return err
					}
					resp = singleAsBulk(*single)
				} else {
					bulk, err := client.Bulk(action, args)
					if err != nil {
						return err
					}
					resp = *bulk
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				printActionResult(cmd.OutOrStdout(), action, resp)
				if !resp.OK {
					return fmt.Errorf("%s rejected for %s", action, strings.Join(resp.Rejected, ", "))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func singleAsBulk(resp api.ActionResponse) api.BulkResponse {
	out := api.BulkResponse{OK: resp.OK}
	if resp.OK {
		out.Accepted = []string{resp.ID}
	} else {
		out.Rejected = []string{resp.ID}
	}
	return out
}

func newQueueReorderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <id>...",
		Short: "Move queued jobs to the front in the given order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Reorder(args); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Queue reordered")
				return nil
			})
		},
	}
}
