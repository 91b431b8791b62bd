package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/extendspider-console/internal/app"
	"github.com/JakeFAU/extendspider-console/internal/configstate"
	"github.com/JakeFAU/extendspider-console/internal/spider"
	"github.com/JakeFAU/extendspider-console/internal/telemetry"
)

const defaultCloseTimeout = 15 * time.Second

type session struct {
	rt      *runtime
	console *app.Console
	// confirmations are printed once the console has closed cleanly.
	confirmations []string
}

func (s *session) confirm(msg string) {
	s.confirmations = append(s.confirmations, msg)
}

// withConsole builds a console, runs fn and closes the console, which delivers
// pending notifications. Delivery failures fail the command.
func withConsole(cmd *cobra.Command, fn func(*session) error) (err error) {
	rt, err := runtimeFrom(cmd)
	if err != nil {
		return err
	}
	tp, err := telemetry.InitTracerProvider(cmd.Context(), telemetry.Config{
		ServiceName: "spiderctl",
		SampleRatio: rt.cfg.Tracing.SampleRatio,
		LogSpans:    rt.cfg.Tracing.LogSpans,
		Logger:      rt.logger,
	})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	ctx, span := tp.Tracer("spiderctl").Start(cmd.Context(), cmd.CommandPath())
	cmd.SetContext(ctx)

	console, err := newConsole(ctx, rt.cfg, rt.logger)
	if err != nil {
		span.End()
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("failed to initialize console: %w", err)
	}
	s := &session{rt: rt, console: console}
	defer func() {
		timeout := max(rt.cfg.SinkTimeout()+5*time.Second, defaultCloseTimeout)
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if cerr := console.Close(closeCtx); cerr != nil {
			err = errors.Join(err, fmt.Errorf("configuration not fully persisted: %w", cerr))
		}
		span.End()
		if serr := tp.Shutdown(closeCtx); serr != nil {
			rt.logger.Debug("tracer shutdown failed", zap.Error(serr))
		}
		if err != nil {
			return
		}
		for _, msg := range s.confirmations {
			if _, werr := fmt.Fprintln(cmd.OutOrStdout(), msg); werr != nil {
				err = werr
				return
			}
		}
	}()
	return fn(s)
}

// mutate runs op against the manager and saves the resulting configuration.
func mutate(cmd *cobra.Command, op func(ctx context.Context, m *configstate.Manager) (string, error)) error {
	return withConsole(cmd, func(s *session) error {
		msg, err := op(cmd.Context(), s.console.Manager)
		if err != nil {
			return err
		}
		if err := s.console.Manager.Save(cmd.Context()); err != nil {
			return err
		}
		s.confirm(msg)
		return nil
	})
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the spider configuration",
	}
	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigToggleCmd(),
		newConfigResetCmd(),
		newConfigResetAllCmd(),
		newConfigTagCmd(),
		newConfigEditCmd(),
		newConfigSetCmd(),
	)
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [NAME]",
		Short: "Print the configuration, or one spider's JSON definition",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withConsole(cmd, func(s *session) error {
				m := s.console.Manager
				if len(args) == 0 {
					return printConfig(cmd.OutOrStdout(), s.rt.output, m.Snapshot())
				}
				rec, ok := m.Unit(args[0])
				if !ok {
					return fmt.Errorf("%w: %s", spider.ErrUnknownUnit, args[0])
				}
				if s.rt.output != outputTable {
					return render(cmd.OutOrStdout(), s.rt.output, rec)
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), m.UnitText(args[0]))
				return err
			})
		},
	}
}

func newConfigToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle NAME",
		Short: "Enable or disable a spider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return mutate(cmd, func(ctx context.Context, m *configstate.Manager) (string, error) {
				if err := m.ToggleUnitEnabled(ctx, name); err != nil {
					return "", err
				}
				rec, _ := m.Unit(name)
				return fmt.Sprintf("%s enabled=%t", name, rec.Enabled), nil
			})
		},
	}
}

func newConfigResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset NAME",
		Short: "Restore a spider to its built-in definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			return mutate(cmd, func(ctx context.Context, m *configstate.Manager) (string, error) {
				if err := m.ResetUnit(ctx, name); err != nil {
					return "", err
				}
				return name + " reset", nil
			})
		},
	}
}

func newConfigResetAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-all",
		Short: "Restore every spider to its built-in definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return mutate(cmd, func(ctx context.Context, m *configstate.Manager) (string, error) {
				if err := m.ResetAll(ctx); err != nil {
					return "", err
				}
				return "all spiders reset", nil
			})
		},
	}
}

func newConfigTagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Add or remove spider tags",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add NAME TAG",
			Short: "Append a tag to a spider",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, tag := args[0], args[1]
				return mutate(cmd, func(ctx context.Context, m *configstate.Manager) (string, error) {
					if err := m.AddTag(ctx, name, tag); err != nil {
						return "", err
					}
					return fmt.Sprintf("%s tagged %q", name, tag), nil
				})
			},
		},
		&cobra.Command{
			Use:     "rm NAME TAG",
			Aliases: []string{"remove"},
			Short:   "Remove the first occurrence of a tag from a spider",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				name, tag := args[0], args[1]
				return mutate(cmd, func(ctx context.Context, m *configstate.Manager) (string, error) {
					if err := m.RemoveTag(ctx, name, tag); err != nil {
						return "", err
					}
					return fmt.Sprintf("%s untagged %q", name, tag), nil
				})
			},
		},
	)
	return cmd
}

func newConfigEditCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "edit NAME --file PATH",
		Short: "Replace a spider's definition with JSON from a file (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			text, err := readInput(cmd.InOrStdin(), file)
			if err != nil {
				return err
			}
			return mutate(cmd, func(_ context.Context, m *configstate.Manager) (string, error) {
				if err := m.CommitUnitJSON(name, text); err != nil {
					return "", err
				}
				return name + " updated", nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file with the spider definition")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newConfigSetCmd() *cobra.Command {
	var (
		enabled  bool
		cron     string
		onlyOnce bool
		tags     []string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change global settings (enabled, cron, onlyonce, tags)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			return withConsole(cmd, func(s *session) error {
				err := s.console.UpdateGlobals(func(g *spider.GlobalConfig) {
					if flags.Changed("enabled") {
						g.Enabled = enabled
					}
					if flags.Changed("cron") {
						g.Cron = cron
					}
					if flags.Changed("onlyonce") {
						g.OnlyOnce = onlyOnce
					}
					if flags.Changed("tags") {
						g.Tags = append([]string{}, tags...)
					}
				})
				if err != nil {
					return err
				}
				if err := s.console.Manager.Save(cmd.Context()); err != nil {
					return err
				}
				s.confirm("settings saved")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", false, "enable the plugin")
	cmd.Flags().StringVar(&cron, "cron", "", "five-field cron schedule")
	cmd.Flags().BoolVar(&onlyOnce, "onlyonce", false, "run once on save")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "global tags")
	return cmd
}

func readInput(stdin io.Reader, file string) (string, error) {
	var (
		data []byte
		err  error
	)
	if file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", file, err)
	}
	return string(data), nil
}
