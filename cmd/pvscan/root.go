package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	pv "github.com/goliatone/go-pvscan"
	"github.com/goliatone/go-pvscan/pkg/activity"
	"github.com/goliatone/go-pvscan/pkg/config"
	"github.com/goliatone/go-pvscan/pkg/logging"
	"github.com/goliatone/go-pvscan/pkg/schema"
	"github.com/goliatone/go-pvscan/pkg/state"
)

// app holds what every subcommand needs once configuration is resolved.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg       *config.Config
	logger    *logging.Logger
	inst      *schema.Instrument
	store     state.Store[pv.Snapshot]
	persister *state.Persister
	closeFn   func() error
}

// flagKeys maps persistent flags to their configuration keys.
var flagKeys = map[string]string{
	"namespace":    "namespace",
	"evaluator":    "evaluator",
	"actor":        "actor",
	"log-level":    "logging.level",
	"log-format":   "logging.format",
	"backend":      "state.backend",
	"state-path":   "state.path",
	"state-format": "state.format",
	"name":         "state.name",
}

func newRootCmd(a *app) *cobra.Command {
	a.v = config.New()

	cmd := &cobra.Command{
		Use:   "pvscan",
		Short: "Inspect, edit and persist tomography scan parameters",
		Long: `pvscan manages the scan parameters of a Prisma tomography instrument.

Parameters are declared from the built-in schemas plus any configured schema
documents. Derived outputs such as NumOfAngles are recomputed whenever one of
their inputs changes. Named configurations are saved to and restored from the
configured state backend.

Examples:
  pvscan describe                          # List every parameter
  pvscan set RotationStart=0 RotationEnd=180 RotationStep=1
  pvscan get NumOfAngles
  pvscan snapshot --file scan.yaml         # Export the current configuration
  pvscan restore --file scan.yaml          # Import it back
  pvscan watch --file scan.yaml            # Re-apply the file on every edit`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/pvscan/config.yaml)")
	flags.String("namespace", "", "parameter namespace, macros allowed (default \"$(P)$(R)\")")
	flags.String("evaluator", "", "formula evaluator: expr, cel or js")
	flags.String("actor", "", "operator id recorded with saved configurations")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text, json or logfmt")
	flags.String("backend", "", "state backend: file, badger or memory")
	flags.String("state-path", "", "state directory (default under $XDG_DATA_HOME/pvscan)")
	flags.String("state-format", "", "file backend encoding: yaml or json")
	flags.String("name", "", "configuration name (default \"default\")")
	bindFlags(a.v, flags)

	cmd.AddCommand(
		newDescribeCmd(a),
		newGetCmd(a),
		newSetCmd(a),
		newSnapshotCmd(a),
		newRestoreCmd(a),
		newListCmd(a),
		newWatchCmd(a),
	)
	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	for flag, key := range flagKeys {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
}

// setup loads configuration and builds the instrument and persister.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(cmd.ErrOrStderr(), logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Prefix: config.AppName,
	})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	a.logger = logger

	hooks := activity.Hooks{activity.HookFunc(a.logActivity)}
	inst, err := buildInstrument(cfg, logger, hooks)
	if err != nil {
		return err
	}
	a.inst = inst

	store, closeFn, err := openStore(cfg.State)
	if err != nil {
		return err
	}
	a.store = store
	a.closeFn = closeFn

	a.persister, err = state.NewPersister(inst.Manifest, store,
		state.WithPersisterLogger(logger),
		state.WithActor(cfg.Actor),
		state.WithActivityHooks(activity.HookFunc(a.logActivity)),
	)
	return err
}

func (a *app) logActivity(_ context.Context, event activity.Event) error {
	a.logger.Charm().Debug(event.Verb, "object", event.ObjectID, "channel", event.Channel)
	return nil
}

// ref returns the configuration ref for name, or the configured default.
func (a *app) ref(name string) state.Ref {
	if name == "" {
		name = a.cfg.State.Name
	}
	return state.Ref{Namespace: a.cfg.Namespace, Name: name}
}

// load restores the named configuration if it was saved before. A missing
// configuration leaves the declared defaults in place. A formula that cannot
// be evaluated from the saved inputs only warns, so the inputs can be fixed.
func (a *app) load(ctx context.Context, name string) (state.Meta, bool, error) {
	ref := a.ref(name)
	report, meta, err := a.persister.Restore(ctx, ref)
	if state.IsNotFound(err) {
		return state.Meta{}, false, nil
	}
	if err != nil {
		return state.Meta{}, false, err
	}
	if report.Computation != nil {
		a.logger.Charm().Warn("restore", "ref", ref.String(), "err", report.Computation)
	}
	if err := (pv.RestoreReport{Failures: report.Failures}).Err(); err != nil {
		return meta, true, fmt.Errorf("restore %s: %w", ref, err)
	}
	return meta, true, nil
}

func (a *app) close() error {
	if a.closeFn == nil {
		return nil
	}
	err := a.closeFn()
	a.closeFn = nil
	return err
}
