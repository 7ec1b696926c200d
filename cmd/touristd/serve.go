package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/touristcache/mutator"
)

func newGatewayCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Apply mutation results to the shared views until stopped",
		Long: `Runs the result subscribers that keep the views coherent.

With --bus=memory the mutator runs in the same process against the
configured repository, and the gateway reads that repository directly.

With --cache=ristretto or --cache=bigcache the views live in this process
and this command serves no reads, so the results it applies reach no
reader; the tourist commands build views of their own. Use --cache=redis
to keep views that other processes read. On --bus=redis each such replica
reads results through a consumer group of its own, starting at entries
added after it started, and removes that group on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				ctx, stop := untilSignal(ctx)
				defer stop()

				b, err := a.bus("gateway")
				if err != nil {
					return err
				}
				store, err := a.remoteStore(ctx)
				if err != nil {
					return err
				}
				if _, err := a.gateway(ctx, gatewayDeps{bus: b, store: store}); err != nil {
					return err
				}

				if a.cfg.Bus == "memory" {
					repo, ok := store.(repository)
					if !ok {
						return fmt.Errorf("--bus=memory needs the repository as store; unset --store-url")
					}
					w, err := mutator.NewWorker(mutator.Config{Bus: b, Repo: repo, Logger: a.logger("mutator")})
					if err != nil {
						return err
					}
					go func() {
						if err := w.Run(ctx); err != nil {
							a.log.WithError(err).Error("embedded mutator stopped")
						}
					}()
				}

				a.log.WithField("namespace", a.cfg.Namespace).Info("gateway running")
				<-ctx.Done()
				a.log.Info("gateway stopping")
				return nil
			})
		},
	}
}

func newMutatorCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "mutator",
		Short: "Apply mutation commands to the tourist repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, v, func(ctx context.Context, a *app) error {
				ctx, stop := untilSignal(ctx)
				defer stop()

				if a.cfg.Bus == "memory" {
					return fmt.Errorf("the mutator needs a shared bus; use --bus=redis or --bus=amqp")
				}
				b, err := a.bus("mutator")
				if err != nil {
					return err
				}
				repo, err := a.repository(ctx)
				if err != nil {
					return err
				}
				w, err := mutator.NewWorker(mutator.Config{Bus: b, Repo: repo, Logger: a.logger("mutator")})
				if err != nil {
					return err
				}
				a.log.WithField("repo", a.cfg.Repo).Info("mutator running")
				return w.Run(ctx)
			})
		},
	}
}
