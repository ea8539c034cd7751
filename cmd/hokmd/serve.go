package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ParisaSokuti/DS-project-sub000/cmd/hokmd/shared"
	"github.com/ParisaSokuti/DS-project-sub000/internal/auth"
	"github.com/ParisaSokuti/DS-project-sub000/internal/server"
	"github.com/ParisaSokuti/DS-project-sub000/internal/store"
)

// ServeCmd contains core server configuration
type ServeCmd struct {
	Addr     string `kong:"env='HOKM_ADDR',help='Listen address (overrides config file)'"`
	StoreDSN string `kong:"env='HOKM_STORE_DSN',help='SQLite DSN for the state store (overrides config file)'"`
	TokenKey string `kong:"env='HOKM_TOKEN_KEY',help='HMAC key for verifying auth tokens; empty runs in open dev mode'"`
	Config   string `kong:"default='hokmd.hcl',env='HOKM_CONFIG',help='HCL config file path'"`
	Debug    bool   `kong:"env='HOKM_DEBUG',help='Enable debug logging'"`
}

func (c *ServeCmd) Run() error {
	logger := shared.SetupLogger(c.Debug)

	cfg, err := server.LoadServerConfig(c.Config)
	if err != nil {
		return err
	}
	addr := cfg.Server.Address
	if c.Addr != "" {
		addr = c.Addr
	}
	dsn := cfg.Server.StoreDSN
	if c.StoreDSN != "" {
		dsn = c.StoreDSN
	}
	tokenKey := cfg.Server.TokenKey
	if c.TokenKey != "" {
		tokenKey = c.TokenKey
	}

	st, err := store.OpenSQLite(dsn)
	if err != nil {
		return err
	}
	defer st.Close()

	var verifier auth.Verifier
	if tokenKey != "" {
		verifier = auth.NewHMACVerifier([]byte(tokenKey))
	} else {
		logger.Warn("No token key configured; accepting unverified identities")
		verifier = auth.NoopVerifier{}
	}

	srv := server.NewServer(st, verifier, logger)

	logger.Info("Starting Hokm server",
		"addr", addr,
		"store", dsn,
		"auth", tokenKey != "")

	ctx := shared.SetupSignalHandler(logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(gctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
