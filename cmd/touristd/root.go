package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 10 * time.Second

func newRootCmd() *cobra.Command {
	v := viper.New()
	root := &cobra.Command{
		Use:           "touristd",
		Short:         "Tourist cache gateway and mutator",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if f := v.GetString("config"); f != "" {
				v.SetConfigFile(f)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read config %s: %w", f, err)
				}
			}
			return nil
		},
	}
	bindFlags(root, v)
	root.AddCommand(
		newGatewayCmd(v),
		newMutatorCmd(v),
		newTouristCmd(v),
	)
	return root
}

// withApp loads the config, runs fn and closes everything fn opened.
func withApp(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	runErr := fn(cmd.Context(), a)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.close(ctx); err != nil {
		a.log.WithError(err).Warn("shutdown")
	}
	return runErr
}

// untilSignal returns a context cancelled on SIGINT or SIGTERM.
func untilSignal(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
