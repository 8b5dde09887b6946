package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/raphi011/testrail"
	"github.com/raphi011/testrail/client"
	"github.com/raphi011/testrail/internal/hook"
	"github.com/raphi011/testrail/internal/model"
	"github.com/raphi011/testrail/internal/storage"
	"github.com/spf13/cobra"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	var (
		port              int
		journalFile       string
		retentionSchedule string
		retention         time.Duration
		elasticURLs       []string
		elasticIndex      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay in front of TestRail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := o.logger(cmd.ErrOrStderr())

			clientOpts := []client.Option{}
			relayOpts := []testrail.Option{testrail.WithPort(port), testrail.WithLogger(log)}

			if journalFile != "" {
				j, err := storage.NewJournal(journalFile, log)
				if err != nil {
					return err
				}
				defer j.Close()

				clientOpts = append(clientOpts, client.WithRecorder(j))
				relayOpts = append(relayOpts,
					testrail.WithJournal(j),
					testrail.WithJournalRetention(retentionSchedule, retention))
			}

			if len(elasticURLs) > 0 {
				es, err := hook.NewElasticRecorder(elasticURLs, elasticIndex, log)
				if err != nil {
					return err
				}

				clientOpts = append(clientOpts, client.WithRecorder(es))
			}

			c, _, err := o.client(cmd, clientOpts...)
			if err != nil {
				return err
			}

			log.Info("Forwarding results to TestRail",
				"base-url", c.BaseURL(), "project-id", c.ProjectID(), "include-all", c.IncludeAll())

			r := testrail.New(c, relayOpts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := r.Shutdown(shutdownCtx); err != nil {
					log.Warn("shutting down relay", "error", err)
				}
			}()

			return r.Run()
		},
	}

	f := cmd.Flags()
	f.IntVarP(&port, "port", "p", 1337, "port used by the relay")
	f.StringVar(&journalFile, "journal", "", "sqlite file recording every delivery, disabled if empty")
	f.StringVar(&retentionSchedule, "retention-schedule", "@hourly", "cron schedule for pruning the journal")
	f.DurationVar(&retention, "retention", 7*24*time.Hour, "age after which journal entries are pruned")
	f.StringSliceVar(&elasticURLs, "elastic-url", nil, "elasticsearch address to index deliveries into (repeatable)")
	f.StringVar(&elasticIndex, "elastic-index", "testrail-deliveries", "elasticsearch index for deliveries")

	return cmd
}

func newPushResultCmd(o *rootOptions) *cobra.Command {
	var (
		status  string
		comment string
		elapsed time.Duration
		version string
		defects string
	)

	cmd := &cobra.Command{
		Use:   "push-result RUN_ID CASE_ID",
		Short: "Add a result for a single case of a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			s, err := model.ParseStatus(status)
			if err != nil {
				return err
			}

			c, _, err := o.client(cmd)
			if err != nil {
				return err
			}

			added, err := c.PushResult(cmd.Context(), ids[0], ids[1], model.Result{
				StatusID: s,
				Comment:  comment,
				Elapsed:  model.Elapsed(elapsed),
				Version:  version,
				Defects:  defects,
			})
			if err != nil {
				return err
			}

			return printJSON(cmd, added)
		},
	}

	f := cmd.Flags()
	f.StringVar(&status, "status", "passed", "result status name or id")
	f.StringVar(&comment, "comment", "", "result comment")
	f.DurationVar(&elapsed, "elapsed", 0, "time the test took")
	f.StringVar(&version, "version", "", "version or build that was tested")
	f.StringVar(&defects, "defects", "", "comma separated defect ids")

	return cmd
}

func newPushResultsCmd(o *rootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "push-results RUN_ID",
		Short: "Add results for multiple cases of a run from a JSON file",
		Long:  "Reads a JSON array of results (each with a case_id) from --file, or stdin if the file is \"-\".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			results, err := readResults(cmd, file)
			if err != nil {
				return err
			}

			c, _, err := o.client(cmd)
			if err != nil {
				return err
			}

			added, err := c.UpdateTestRunResults(cmd.Context(), ids[0], results)
			if err != nil {
				return err
			}

			return printJSON(cmd, added)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "results file")

	return cmd
}

func newUpdateRunCmd(o *rootOptions) *cobra.Command {
	var caseIDs []int

	cmd := &cobra.Command{
		Use:   "update-run RUN_ID",
		Short: "Add cases to a run, keeping the cases it already contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}

			c, _, err := o.client(cmd)
			if err != nil {
				return err
			}

			update, err := c.UpdateTestRun(cmd.Context(), ids[0], caseIDs)
			if err != nil {
				return err
			}

			return printJSON(cmd, model.CaseIDsRequest{CaseIDs: update.CaseIDs})
		},
	}

	cmd.Flags().IntSliceVar(&caseIDs, "case-ids", nil, "case ids to add")

	return cmd
}

func newFindRunsCmd(o *rootOptions) *cobra.Command {
	var latest bool

	cmd := &cobra.Command{
		Use:   "find-runs SUITE_ID PATTERN",
		Short: "List the runs of a suite whose name matches a regular expression",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:1])
			if err != nil {
				return err
			}

			c, _, err := o.client(cmd)
			if err != nil {
				return err
			}

			if latest {
				run, err := c.LatestRunMatchingName(cmd.Context(), ids[0], args[1])
				if err != nil {
					return err
				}

				return printJSON(cmd, run)
			}

			runs, err := c.FindRunsMatchingName(cmd.Context(), ids[0], args[1])
			if err != nil {
				return err
			}

			return printJSON(cmd, runs)
		},
	}

	cmd.Flags().BoolVar(&latest, "latest", false, "only print the most recently created match")

	return cmd
}

func newAddRunCmd(o *rootOptions) *cobra.Command {
	var (
		description string
		caseIDs     []int
	)

	cmd := &cobra.Command{
		Use:   "add-run SUITE_ID NAME",
		Short: "Create a new run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args[:1])
			if err != nil {
				return err
			}

			c, _, err := o.client(cmd)
			if err != nil {
				return err
			}

			run, err := c.AddRun(cmd.Context(), model.NewRun{
				SuiteID:     ids[0],
				Name:        args[1],
				Description: description,
				CaseIDs:     caseIDs,
			})
			if err != nil {
				return err
			}

			return printJSON(cmd, run)
		},
	}

	f := cmd.Flags()
	f.StringVar(&description, "description", "", "run description")
	f.IntSliceVar(&caseIDs, "case-ids", nil, "cases to include when --include-all is not set")

	return cmd
}

func parseIDs(args []string) ([]int, error) {
	ids := make([]int, 0, len(args))

	for _, a := range args {
		id, err := strconv.Atoi(a)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", a)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func readResults(cmd *cobra.Command, file string) ([]model.Result, error) {
	var r io.Reader = cmd.InOrStdin()

	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("opening results file: %w", err)
		}
		defer f.Close()

		r = f
	}

	var results []model.Result

	if err := json.NewDecoder(r).Decode(&results); err != nil {
		return nil, fmt.Errorf("parsing results: %w", err)
	}

	return results, nil
}
