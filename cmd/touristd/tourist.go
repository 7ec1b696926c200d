package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/touristcache"
	"github.com/unkn0wn-root/touristcache/tourist"
)

// newTouristCmd groups one-shot lookups and mutations. They share the views
// with a running gateway but leave result handling to it.
func newTouristCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tourist",
		Short: "Look up or mutate tourists through the cache",
	}
	cmd.AddCommand(
		newGetCmd(v),
		newListCmd(v),
		newCreateCmd(v),
		newUpdateCmd(v),
		newDeleteCmd(v),
	)
	return cmd
}

// withGateway runs fn against a gateway that reads and publishes only.
func withGateway(cmd *cobra.Command, v *viper.Viper, fn func(ctx context.Context, g touristcache.Gateway) error) error {
	return withApp(cmd, v, func(ctx context.Context, a *app) error {
		if a.cfg.Bus == "memory" {
			return errors.New("one-shot commands need a shared bus; use --bus=redis or --bus=amqp")
		}
		b, err := a.bus("cli")
		if err != nil {
			return err
		}
		store, err := a.remoteStore(ctx)
		if err != nil {
			return err
		}
		g, err := a.gateway(ctx, gatewayDeps{bus: b, store: store, skipSubscribers: true})
		if err != nil {
			return err
		}
		return fn(ctx, g)
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newGetCmd(v *viper.Viper) *cobra.Command {
	var id, email, phone string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Get one tourist by --id, --email or --phone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGateway(cmd, v, func(ctx context.Context, g touristcache.Gateway) error {
				var (
					t   tourist.Tourist
					err error
				)
				switch {
				case id != "":
					t, err = g.TouristByID(ctx, id)
				case email != "":
					t, err = g.TouristByEmail(ctx, email)
				case phone != "":
					t, err = g.TouristByPhone(ctx, phone)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tourist id")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	cmd.MarkFlagsOneRequired("id", "email", "phone")
	cmd.MarkFlagsMutuallyExclusive("id", "email", "phone")
	return cmd
}

func newListCmd(v *viper.Viper) *cobra.Command {
	var name, surname string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every tourist, or those with --name and --surname",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGateway(cmd, v, func(ctx context.Context, g touristcache.Gateway) error {
				var (
					list []tourist.Tourist
					err  error
				)
				if name != "" || surname != "" {
					list, err = g.TouristsByNameAndSurname(ctx, name, surname)
				} else {
					list, err = g.AllTourists(ctx)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "first name")
	cmd.Flags().StringVar(&surname, "surname", "", "surname")
	cmd.MarkFlagsRequiredTogether("name", "surname")
	return cmd
}

func touristFlags(cmd *cobra.Command, t *tourist.Tourist) {
	cmd.Flags().StringVar(&t.ID, "id", "", "tourist id")
	cmd.Flags().StringVar(&t.Name, "name", "", "first name")
	cmd.Flags().StringVar(&t.Surname, "surname", "", "surname")
	cmd.Flags().StringVar(&t.Email, "email", "", "email address")
	cmd.Flags().StringVar(&t.PhoneNumber, "phone", "", "phone number")
	cmd.Flags().StringVar(&t.Country, "country", "", "country")
}

func newCreateCmd(v *viper.Viper) *cobra.Command {
	var t tourist.Tourist
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a create command; --id is assigned by the mutator when empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGateway(cmd, v, func(ctx context.Context, g touristcache.Gateway) error {
				if err := g.Create(ctx, t); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "create published")
				return err
			})
		},
	}
	touristFlags(cmd, &t)
	return cmd
}

func newUpdateCmd(v *viper.Viper) *cobra.Command {
	var t tourist.Tourist
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Publish an update command for --id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGateway(cmd, v, func(ctx context.Context, g touristcache.Gateway) error {
				if err := g.Update(ctx, t.ID, t); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "update published")
				return err
			})
		},
	}
	touristFlags(cmd, &t)
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newDeleteCmd(v *viper.Viper) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Publish a delete command for --id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGateway(cmd, v, func(ctx context.Context, g touristcache.Gateway) error {
				if err := g.Delete(ctx, id); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "delete published")
				return err
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tourist id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
