package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/agentworkforce/readerstream/internal/config"
	"github.com/agentworkforce/readerstream/internal/logging"
	"github.com/agentworkforce/readerstream/internal/session"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// rootOptions holds the global flags and the configuration they resolve to.
type rootOptions struct {
	configPath string
	baseURL    string
	token      string
	tokenFile  string
	logLevel   string

	cfg    *config.Config
	logger *log.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "readerstream",
		Short:         "Follow a feed reader's article list as it changes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default "+config.DefaultConfigPath()+")")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "reader server base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "bearer token")
	cmd.PersistentFlags().StringVar(&opts.tokenFile, "token-file", "", "file holding the bearer token; followed for changes")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newMarkCommand(opts))
	cmd.AddCommand(newMarkAllReadCommand(opts))
	cmd.AddCommand(newFormatCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// load resolves the configuration: embedded defaults, then the config file,
// then READERSTREAM_* variables, then flags.
func (o *rootOptions) load(cmd *cobra.Command) error {
	boot, err := logging.New(cmd.ErrOrStderr(), "info")
	if err != nil {
		return err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(boot)

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = o.baseURL
	}
	if flags.Changed("token") {
		cfg.Token = o.token
	}
	if flags.Changed("token-file") {
		cfg.TokenFile = o.tokenFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	return nil
}

func (o *rootOptions) session(mutate func(*config.Config)) (*session.Session, error) {
	cfg := *o.cfg
	if mutate != nil {
		mutate(&cfg)
	}
	return session.New(&cfg, session.Options{Logger: o.logger})
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "readerstream %s\n", version)
			return nil
		},
	}
}
