package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/omnio/internal/adapters/rtc"
	"github.com/dkeye/omnio/internal/adapters/storage"
	"github.com/dkeye/omnio/internal/bridge"
	"github.com/dkeye/omnio/internal/config"
	"github.com/dkeye/omnio/internal/crypto"
	"github.com/dkeye/omnio/internal/domain"
	"github.com/dkeye/omnio/internal/peer"
	"github.com/dkeye/omnio/internal/store"
)

var _ peer.Negotiator = (*rtc.Peer)(nil)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:           "omnio",
		Short:         "Omnio peer: rooms, chat and calls over the signaling relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("server", "", "signaling server URL (ws://host:port/api/ws/signal)")
	flags.String("username", "", "display name attached to sent documents")
	flags.String("storage-driver", "", "storage driver: bolt|sqlite|file|redis|memory")
	flags.String("storage-path", "", "storage file or directory")
	flags.String("log-level", "", "log level")
	bind(v, "peer.server_url", flags.Lookup("server"))
	bind(v, "peer.username", flags.Lookup("username"))
	bind(v, "storage.driver", flags.Lookup("storage-driver"))
	bind(v, "storage.path", flags.Lookup("storage-path"))
	bind(v, "log_level", flags.Lookup("log-level"))

	root.AddCommand(newChatCmd(v))
	root.AddCommand(newCallCmd(v))
	root.AddCommand(newRoomsCmd(v))
	root.AddCommand(newKeygenCmd(v))
	root.AddCommand(newKeyCmd(v))
	return root
}

func bind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// App is everything a command needs, wired from one config.
type App struct {
	Cfg    *config.Config
	DB     *store.DB
	Keys   *crypto.KeyStore
	Bridge *bridge.Bridge
}

func loadApp(ctx context.Context, v *viper.Viper) (*App, error) {
	cfg, err := config.Decode(v)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(cfg.Level())
	if err := domain.ValidateUsername(cfg.Peer.Username); err != nil {
		return nil, fmt.Errorf("username: %w", err)
	}

	backend, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}
	db := store.Open(backend, cfg.Storage.Namespace)
	keys := crypto.NewKeyStore(db)
	b, err := bridge.New(ctx, db, keys, cfg.Peer.Username)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &App{Cfg: cfg, DB: db, Keys: keys, Bridge: b}, nil
}

func (a *App) Close() {
	a.Bridge.Close()
	if err := a.DB.Close(); err != nil {
		log.Warn().Err(err).Msg("closing storage")
	}
}

func (a *App) negotiatorFactory() peer.NegotiatorFactory {
	iceCfg := rtc.Configuration(a.Cfg.Peer.ICEServers)
	return func() (peer.Negotiator, error) {
		p, err := rtc.NewPeer(iceCfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}
