/*
Headless Tandem peer.

Joins the session on the local network described by a TOML file (see package config) and, if configured, serves the admin API so tandemctl can inspect and drive it.
Objects spawned by other peers are instantiated as plain bodies for every template the file lists.

	peer -config peer.toml
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/rflandau/tandem/tandem/admin"
	"github.com/rflandau/tandem/tandem/config"
	"github.com/rflandau/tandem/tandem/session"
	"github.com/rflandau/tandem/tandem/transport"
	"github.com/rs/zerolog"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "path to a TOML configuration file; defaults are used if omitted")
		adminAddr = flag.String("admin", "", "ip:port to serve the admin API on; overrides the file")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *adminAddr != "" {
		ap, err := netip.ParseAddrPort(*adminAddr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad admin address:", err)
			os.Exit(1)
		}
		cfg.Admin = ap
	}

	l := zerolog.New(zerolog.ConsoleWriter{
		Out:         os.Stdout,
		FieldsOrder: []string{"peer"},
		TimeFormat:  "15:04:05",
	}).With().
		Str("peer", cfg.Listen.String()).
		Timestamp().
		Caller().
		Logger().Level(cfg.LogLevel)
	l.Info().Func(cfg.Zerolog).Msg("configuration loaded")

	if err := run(cfg, &l); err != nil {
		l.Fatal().Err(err).Send()
	}
}

func run(cfg config.Config, l *zerolog.Logger) error {
	codec, err := cfg.CodecImpl()
	if err != nil {
		return err
	}
	tr, err := transport.ListenUDP(cfg.Listen, codec, cfg.TransportOptions(l)...)
	if err != nil {
		return err
	}
	opts, err := cfg.SessionOptions(l)
	if err != nil {
		tr.Close()
		return err
	}
	s, err := session.New(tr, opts...)
	if err != nil {
		tr.Close()
		return err
	}
	defer s.Close()

	if cfg.Admin.IsValid() {
		srv, err := admin.New(s, cfg.Admin, admin.WithLogger(l))
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Println("Send a SIGINT to kill the program")

	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Println("SIGINT captured. Cleaning up....")
	return nil
}
