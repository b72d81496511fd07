package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dkeye/omnio/internal/crypto"
	"github.com/dkeye/omnio/internal/domain"
)

func newKeygenCmd(v *viper.Viper) *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a room key; with --room also store it and mark the room secure",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := crypto.GenerateRoomKey()
			if err != nil {
				return err
			}
			if room != "" {
				app, err := loadApp(cmd.Context(), v)
				if err != nil {
					return err
				}
				defer app.Close()
				if err := app.Keys.Set(cmd.Context(), domain.RoomID(room), key); err != nil {
					return err
				}
				if err := app.Bridge.SetSecure(cmd.Context(), domain.RoomID(room), true); err != nil {
					return err
				}
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), key.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&room, "room", "", "store the key for this room")
	return cmd
}

func newKeyCmd(v *viper.Viper) *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage stored room keys"}

	key.AddCommand(&cobra.Command{
		Use:   "set <room> <hex-key>",
		Short: "Store a key received out of band",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := crypto.ParseRoomKey(args[1])
			if err != nil {
				return err
			}
			app, err := loadApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.Keys.Set(cmd.Context(), domain.RoomID(args[0]), k); err != nil {
				return err
			}
			return app.Bridge.SetSecure(cmd.Context(), domain.RoomID(args[0]), true)
		},
	})

	key.AddCommand(&cobra.Command{
		Use:   "show <room>",
		Short: "Print the stored key of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer app.Close()
			k, ok, err := app.Keys.Get(cmd.Context(), domain.RoomID(args[0]))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no key for room %s", args[0])
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), k.String())
			return nil
		},
	})

	key.AddCommand(&cobra.Command{
		Use:   "rm <room>",
		Short: "Forget the key of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Keys.Remove(cmd.Context(), domain.RoomID(args[0]))
		},
	})

	key.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget every stored key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := loadApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Keys.Clear(cmd.Context())
		},
	})
	return key
}
