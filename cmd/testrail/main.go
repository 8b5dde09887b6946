package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/raphi011/testrail/client"
	"github.com/raphi011/testrail/internal/config"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
	domain     string
	projectID  int
	username   string
	apiToken   string
	includeAll bool
	debug      bool
}

func newRootCmd() *cobra.Command {
	return newRootCmdWithOptions(&rootOptions{})
}

func newRootCmdWithOptions(o *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:          "testrail",
		Short:        "Forward test results to TestRail",
		SilenceUsage: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&o.configFile, "config", "", "path to a YAML config file")
	f.StringVar(&o.domain, "domain", "", "TestRail host, e.g. example.testrail.io (env "+config.EnvDomain+")")
	f.IntVar(&o.projectID, "project-id", 0, "TestRail project id (env "+config.EnvProjectID+")")
	f.StringVar(&o.username, "username", "", "TestRail user (env "+config.EnvUsername+")")
	f.StringVar(&o.apiToken, "api-token", "", "TestRail API token (env "+config.EnvAPIToken+")")
	f.BoolVar(&o.includeAll, "include-all", false, "include all cases of the suite in new runs (env "+config.EnvIncludeAll+")")
	f.BoolVar(&o.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(o),
		newPushResultCmd(o),
		newPushResultsCmd(o),
		newUpdateRunCmd(o),
		newFindRunsCmd(o),
		newAddRunCmd(o),
	)

	return root
}

func (o *rootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// config merges the config file, the environment and explicitly set flags,
// in that order of precedence.
func (o *rootOptions) config(cmd *cobra.Command) (client.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return client.Config{}, err
	}

	flags := cmd.Flags()

	if flags.Changed("domain") {
		cfg.Domain = o.domain
	}
	if flags.Changed("project-id") {
		cfg.ProjectID = o.projectID
	}
	if flags.Changed("username") {
		cfg.Username = o.username
	}
	if flags.Changed("api-token") {
		cfg.APIToken = o.apiToken
	}
	if flags.Changed("include-all") {
		cfg.IncludeAll = o.includeAll
	}

	if err = config.Validate(cfg); err != nil {
		return client.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (o *rootOptions) client(cmd *cobra.Command, opts ...client.Option) (*client.Client, *slog.Logger, error) {
	cfg, err := o.config(cmd)
	if err != nil {
		return nil, nil, err
	}

	log := o.logger(cmd.ErrOrStderr())

	opts = append([]client.Option{client.WithLogger(log)}, opts...)

	return client.New(cfg, opts...), log, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
