package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/awmpietro/golang-declarative-debugger/internal/aet"
	"github.com/awmpietro/golang-declarative-debugger/internal/app"
	"github.com/awmpietro/golang-declarative-debugger/internal/cache"
	"github.com/awmpietro/golang-declarative-debugger/internal/collect"
	"github.com/awmpietro/golang-declarative-debugger/internal/config"
	"github.com/awmpietro/golang-declarative-debugger/internal/transport/sessiondto"
)

type sessionFlags struct {
	logPath   string
	at        uint64
	depthStep uint64
	strategy  string
	verbose   bool
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.logPath, "log", "", "recorded event log (JSON)")
	cmd.Flags().Uint64Var(&f.at, "at", 0, "final event of the call to debug")
	cmd.Flags().Uint64Var(&f.depthStep, "depth-step", 0, "levels materialized per collection (default from config)")
	cmd.Flags().StringVar(&f.strategy, "strategy", "", "call matching strategy: contour or slot (default from config)")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log every collected event")
	_ = cmd.MarkFlagRequired("log")
	_ = cmd.MarkFlagRequired("at")
}

func (f *sessionFlags) request() (app.DiagnoseRequest, error) {
	data, err := os.ReadFile(f.logPath)
	if err != nil {
		return app.DiagnoseRequest{}, fmt.Errorf("read log: %w", err)
	}
	return app.DiagnoseRequest{Log: data, At: f.at, DepthStep: f.depthStep, Strategy: f.strategy}, nil
}

func (f *sessionFlags) service(cfg config.Runtime) (*app.Service, func(), error) {
	level := cfg.LogLevel
	if f.verbose {
		level = "debug"
	}
	cfg.LogLevel = level
	logger, err := cfg.Logger()
	if err != nil {
		return nil, nil, err
	}

	strategy, _ := collect.ParseMatchStrategy(cfg.MatchStrategy)
	opts := []app.ServiceOption{
		app.WithLogger(logger),
		app.WithDefaults(uint64(cfg.DepthStepSize), strategy),
	}
	if f.verbose {
		opts = append(opts, app.WithEventObserver(collect.NewEventLogger(logger)))
	}
	svc := app.NewService(cache.NewInMemory(1), opts...)
	return svc, func() { _ = logger.Sync() }, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "decldebug",
		Short:         "Declarative debugging over recorded execution logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newReplayCmd(), newRenderCmd(), newInspectCmd())
	return root
}

func newReplayCmd() *cobra.Command {
	var (
		f          sessionFlags
		assertions []string
		dotOut     string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Diagnose a call with assertions over its answers",
		Long: "Replays the log from the given final event and searches for the innermost\n" +
			"call whose answer matches one of the assertions. In test mode\n" +
			"(DECLDEBUG_MODE=test, or --dot) the first tree is written as DOT\n" +
			"instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			req, err := f.request()
			if err != nil {
				return err
			}
			req.Assertions = assertions
			switch {
			case dotOut != "":
				req.Render = true
				req.Output = dotOut
			case cfg.Mode == "test":
				req.Render = true
				req.Output = cfg.TestOutput
			}

			svc, done, err := f.service(cfg)
			if err != nil {
				return err
			}
			defer done()

			res, err := svc.Diagnose(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), sessiondto.FromResult(res))
		},
	}
	f.register(cmd)
	cmd.Flags().StringArrayVarP(&assertions, "assert", "a", nil, "condition that marks an answer as wrong (repeatable)")
	cmd.Flags().StringVar(&dotOut, "dot", "", "write the first tree to this DOT file instead of diagnosing")
	return cmd
}

func newRenderCmd() *cobra.Command {
	var (
		f   sessionFlags
		out string
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the tree collected for a call as DOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			req, err := f.request()
			if err != nil {
				return err
			}
			req.Render = true
			req.Output = out

			svc, done, err := f.service(cfg)
			if err != nil {
				return err
			}
			defer done()

			res, err := svc.Diagnose(cmd.Context(), req)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = io.WriteString(cmd.OutOrStdout(), res.DOT)
			}
			return err
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write DOT to this file instead of stdout")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Decode a rendered DOT tree and print its nodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read tree: %w", err)
			}
			snap, err := aet.ParseDOT(string(data))
			if err != nil {
				return err
			}
			switch format {
			case "json":
				return writeJSON(cmd.OutOrStdout(), snap)
			case "yaml":
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(snap); err != nil {
					return err
				}
				return enc.Close()
			}
			return fmt.Errorf("unknown format %q", format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
