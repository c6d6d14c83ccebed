// Command emulator stands in for the orchestrator: it calls the function
// repeatedly, threading the returned state into the next call, until the
// function reports there is nothing more to fetch.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/datacult/fivetran-function/sync"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmdRoot := &cobra.Command{
		Use:           "emulator",
		Short:         "Run the custom function locally the way the orchestrator would",
		SilenceErrors: true,
	}
	cmdRoot.PersistentFlags().StringP("config", "c", "", "YAML file overriding the built-in defaults")
	cmdRoot.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	cmdRoot.PersistentFlags().String("secrets-env", sync.DefaultSecretsEnvVar, "env var holding secrets as a JSON object, discovered by endpoint key when unset or empty")
	cmdRoot.PersistentFlags().StringArrayP("secret", "s", nil, "secret as KEY=VALUE, overrides the environment (repeatable)")
	cmdRoot.PersistentFlags().String("state", "", "initial state as JSON, e.g. '{\"continue\":\"abc\"}'")
	cmdRoot.PersistentFlags().String("record", "", "record upstream requests to this directory")
	cmdRoot.PersistentFlags().String("replay", "", "replay upstream requests from this directory")

	cmdSync := &cobra.Command{
		Use:   "sync",
		Short: "Call the function until hasMore is false",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.runSync(cmd)
		},
	}
	cmdSync.Flags().String("state-file", "", "read the initial state from, and write the final state to, this file")
	cmdSync.Flags().Bool("save", false, "save received records to a data_download_<time>.json file")
	cmdSync.Flags().String("out-dir", ".", "directory for saved records")
	cmdSync.Flags().Int("max-pages", -1, "fail after this many pages if more remain (overrides config, 0 = unbounded)")
	cmdSync.Flags().Int("retries", -1, "resume this many times after transport failures (overrides config)")

	cmdTest := &cobra.Command{
		Use:   "test",
		Short: "Call the function once and print the envelope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.runTest(cmd)
		},
	}

	cmdDocs := &cobra.Command{
		Use:   "docs",
		Short: "Print the destination table mapping as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			doc, err := sync.GenerateTableDocumentation(a.config)
			if err != nil {
				return err
			}
			csv, err := doc.CSV()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), csv)
			return err
		},
	}

	cmdRoot.AddCommand(
		cmdSync,
		cmdTest,
		cmdDocs,
	)

	if err := cmdRoot.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	config      sync.Config
	secrets     sync.Secrets
	state       sync.State
	syncContext *sync.SyncContext
	logger      zerolog.Logger
}

func newApp(cmd *cobra.Command) (*app, error) {
	flags := cmd.Flags()
	configFile, _ := flags.GetString("config")
	logLevel, _ := flags.GetString("log-level")
	secretsEnv, _ := flags.GetString("secrets-env")
	secretFlags, _ := flags.GetStringArray("secret")
	stateJSON, _ := flags.GetString("state")
	record, _ := flags.GetString("record")
	replay, _ := flags.GetString("replay")

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()

	compositeEnvVar := sync.JSONCompositeEnvVar{Parent: secretsEnv}
	config, err := sync.LoadConfig(compositeEnvVar, configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %w", err)
	}
	if compositeEnvVar.Parent, err = sync.ResolveSecretsEnvVar(secretsEnv, config.Source.Secrets.Endpoint); err != nil {
		return nil, err
	}
	if compositeEnvVar.Parent != secretsEnv {
		logger.Debug().Str("env", compositeEnvVar.Parent).Msg("using secrets from discovered env var")
	}

	overrides, err := sync.ParseSecretAssignments(secretFlags)
	if err != nil {
		return nil, err
	}
	secrets := sync.SecretsFromEnvironment(compositeEnvVar, config.Source.SecretNames()...).Merge(overrides)

	var state sync.State
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return nil, fmt.Errorf("invalid --state %w", err)
		}
	}

	return &app{
		config:  config,
		secrets: secrets,
		state:   state,
		syncContext: &sync.SyncContext{
			Config:         config,
			RecordRequests: record,
			ReplayRequests: replay,
		},
		logger: logger,
	}, nil
}

func (a *app) connector() (*sync.Connector, error) {
	return sync.NewConnector(a.syncContext)
}

func (a *app) runSync(cmd *cobra.Command) error {
	flags := cmd.Flags()
	stateFile, _ := flags.GetString("state-file")
	save, _ := flags.GetBool("save")
	outDir, _ := flags.GetString("out-dir")
	maxPages, _ := flags.GetInt("max-pages")
	retries, _ := flags.GetInt("retries")

	settings := a.config.Sync
	if maxPages >= 0 {
		settings.MaxPages = maxPages
	}
	if retries >= 0 {
		settings.Retries = retries
	}

	connector, err := a.connector()
	if err != nil {
		return err
	}
	emulator, err := sync.NewEmulator(sync.NewDriverFromSettings(connector, settings), settings)
	if err != nil {
		return err
	}
	emulator.StateFile = stateFile
	if save {
		emulator.SaveDir = outDir
	}

	state := a.state
	if !flags.Changed("state") {
		if state, err = emulator.LoadState(); err != nil {
			return err
		}
	}

	ctx := a.logger.WithContext(cmd.Context())
	result, err := emulator.Sync(ctx, state, a.secrets)
	a.logger.Info().
		Stringer("status", result.Status).
		Int("pages", result.Pages).
		Int("attempts", result.Attempts).
		Interface("state", result.State).
		Msg("finished")
	return err
}

func (a *app) runTest(cmd *cobra.Command) error {
	connector, err := a.connector()
	if err != nil {
		return err
	}
	emulator, err := sync.NewEmulator(sync.NewDriverFromSettings(connector, a.config.Sync), a.config.Sync)
	if err != nil {
		return err
	}

	ctx := a.logger.WithContext(cmd.Context())
	envelope, err := emulator.Test(ctx, a.state, a.secrets)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
