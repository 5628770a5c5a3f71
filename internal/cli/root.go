// Package cli implements the docchat command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	docchat "github.com/maomaowang214/doc-chat"
	"github.com/maomaowang214/doc-chat/api"
	"github.com/maomaowang214/doc-chat/internal/config"
)

// Run executes the command line with args.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

type globalOptions struct {
	cfgPath string
	baseURL string
	debug   bool
	output  string
	stdout  io.Writer
	stderr  io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stdout: stdout, stderr: stderr}
	cmd := &cobra.Command{
		Use:           "docchat",
		Short:         "Document QA chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.cfgPath, "config", "c", "", "config file (yaml or toml)")
	pf.StringVar(&opts.baseURL, "base-url", "", "backend base URL, overrides config")
	pf.BoolVar(&opts.debug, "debug", false, "log requests and stream events")
	pf.StringVarP(&opts.output, "output", "o", "json", "output format: json or yaml")

	cmd.AddCommand(
		newChatCmd(opts),
		newHistoryCmd(opts),
		newSessionCmd(opts),
		newDocsCmd(opts),
		newModelsCmd(opts),
		newRagTestCmd(opts),
		newProxyCmd(opts),
		newVersionCmd(opts),
	)
	return cmd
}

func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(strings.TrimSpace(o.cfgPath))
	if err != nil {
		return nil, err
	}
	if o.baseURL != "" {
		cfg.Server.BaseURL = o.baseURL
	}
	if o.debug {
		cfg.Logging.Debug = true
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func (o *globalOptions) logger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.Logging.Level))
	return slog.New(slog.NewTextHandler(o.stderr, &slog.HandlerOptions{Level: level}))
}

// clientOptions maps file configuration onto client options.
func clientOptions(cfg *config.Config, logger docchat.Logger, notifier docchat.Notifier) []docchat.Option {
	opts := []docchat.Option{
		docchat.WithBaseURL(cfg.Server.BaseURL),
		docchat.WithTimeout(cfg.Timeout()),
		docchat.WithStreamTimeout(cfg.StreamTimeout()),
		docchat.WithStreamBufferSize(cfg.Server.StreamBuffer),
		docchat.WithLogger(logger),
		docchat.WithNotifier(notifier),
	}
	if cfg.RateLimit.RPS > 0 {
		opts = append(opts, docchat.WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
	}
	if cfg.Logging.Debug {
		opts = append(opts, docchat.WithDebug())
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, docchat.WithMetrics())
	}
	return opts
}

func (o *globalOptions) newAPI() (*api.API, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := o.logger(cfg)
	client := docchat.New(clientOptions(cfg, logger, stderrNotifier(o.stderr))...)
	if !client.IsValid() {
		return nil, client.ValidationError()
	}
	return api.New(client), nil
}

var enableColor = isatty.IsTerminal(os.Stdout.Fd()) && strings.TrimSpace(os.Getenv("NO_COLOR")) == ""

func colorize(code, s string) string {
	if !enableColor {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

// stderrNotifier prints user notifications; cancellations are dimmed.
func stderrNotifier(w io.Writer) docchat.Notifier {
	return docchat.NotifierFunc(func(message string, cancel bool) {
		if cancel {
			fmt.Fprintln(w, colorize("2", message))
			return
		}
		fmt.Fprintln(w, colorize("31", message))
	})
}

func newVersionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("output") {
				fmt.Fprintln(opts.stdout, docchat.GetVersion())
				return nil
			}
			return printValue(opts, docchat.GetVersionInfo())
		},
	}
}
