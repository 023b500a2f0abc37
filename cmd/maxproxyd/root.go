package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mariadb-corporation/maxscale-sub025/internal/config"
	"github.com/mariadb-corporation/maxscale-sub025/internal/runtime"
)

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "maxproxyd",
		Short:         "MariaDB/MySQL wire-protocol routing proxy",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	config.BindFlags(root, v)

	root.AddCommand(newRunCmd(v))
	root.AddCommand(newValidateConfigCmd(v))
	root.AddCommand(newDumpConfigCmd(v))
	return root
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "load configuration and serve every configured listener until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			log := newLogger(cfg.LogLevel)

			rt, err := runtime.New(cfg, log)
			if err != nil {
				return fmt.Errorf("building runtime: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.WithField("listeners", len(cfg.Listeners)).Info("starting maxproxyd")
			return rt.Start(ctx)
		},
	}
}

func newValidateConfigCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "parse and validate configuration without starting the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			fmt.Printf("configuration OK: %d server(s), %d service(s), %d listener(s)\n",
				len(cfg.Servers), len(cfg.Services), len(cfg.Listeners))
			return nil
		},
	}
}

// newDumpConfigCmd prints the fully resolved configuration (flags, env, and
// file merged) as YAML, for operators who want to see what Load actually
// produced before committing it to a file.
func newDumpConfigCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "dump-config",
		Short: "print the fully resolved configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func newLogger(level string) *logrus.Entry {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(l)
}
