// Package cli implements levelctl, the offline administration tool. It opens
// the same storage the server is configured with and works on it directly,
// so it should not be pointed at a bolt file a running server holds open.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrijs2005/levelstore/internal/logging"
	"github.com/dmitrijs2005/levelstore/internal/server/auth"
	"github.com/dmitrijs2005/levelstore/internal/server/config"
	"github.com/dmitrijs2005/levelstore/internal/server/projects"
	"github.com/dmitrijs2005/levelstore/internal/server/state"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
	backend    string
	path       string
	dsn        string
	logLevel   string
	compress   bool
}

// configArgs turns the persistent flags into the server's own flag syntax so
// config.Load applies its usual precedence.
func (o *rootOptions) configArgs(cmd *cobra.Command) []string {
	var args []string
	if o.configFile != "" {
		args = append(args, "-c", o.configFile)
	}
	flags := cmd.Flags()
	if flags.Changed("storage") {
		args = append(args, "-s", o.backend)
	}
	if flags.Changed("path") {
		args = append(args, "-p", o.path)
	}
	if flags.Changed("dsn") {
		args = append(args, "-d", o.dsn)
	}
	if flags.Changed("compress") && o.compress {
		args = append(args, "-z")
	}
	return append(args, "-l", o.logLevel)
}

func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configArgs(cmd))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// env is what a storage-backed command works with.
type env struct {
	state    *state.State
	auth     *auth.Service
	projects *projects.Service
}

func (o *rootOptions) open(cmd *cobra.Command) (*env, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := logging.NewJSONLogger(cmd.ErrOrStderr(), logging.ParseLevel(cfg.LogLevel, slog.LevelWarn))

	st, err := state.Open(cmd.Context(), cfg, logger.With("module", "levelctl"))
	if err != nil {
		return nil, err
	}
	return &env{
		state: st,
		auth: auth.NewService(st, auth.Options{
			MinPasswordLength: cfg.MinPasswordLength,
			SessionTTL:        cfg.SessionTTL,
		}),
		projects: projects.NewService(st, projects.Options{Retention: cfg.BackupRetention}),
	}, nil
}

// withEnv opens the storage for the duration of fn and closes it afterwards.
func (o *rootOptions) withEnv(fn func(ctx context.Context, cmd *cobra.Command, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		e, err := o.open(cmd)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, e.state.Close())
		}()
		return fn(cmd.Context(), cmd, e, args)
	}
}

// NewRootCmd builds a fresh levelctl command tree.
func NewRootCmd() *cobra.Command {
	o := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "levelctl",
		Short: "Administer a level store",
		Long: `levelctl works directly on the storage configured for the level store
server. Storage settings come from the same config file, LEVELSTORE_*
environment variables and flags the server uses.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&o.configFile, "config", "c", "", "server config file (JSON)")
	pf.StringVar(&o.backend, "storage", "", "storage backend (bolt, fs, postgres, sqlite, s3, memory)")
	pf.StringVar(&o.path, "path", "", "storage path for bolt, sqlite and fs")
	pf.StringVar(&o.dsn, "dsn", "", "PostgreSQL DSN")
	pf.BoolVar(&o.compress, "compress", false, "values are zstd-compressed")
	pf.StringVar(&o.logLevel, "log-level", "warn", "log level")

	cmd.AddCommand(newUserCmd(o), newProjectCmd(o), newPingCmd(o))
	return cmd
}

// Execute runs levelctl with os.Args.
func Execute(ctx context.Context, version string) error {
	cmd := NewRootCmd()
	cmd.Version = version
	return cmd.ExecuteContext(ctx)
}
