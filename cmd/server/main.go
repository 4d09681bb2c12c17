package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-gateway/auth"
	"github.com/jrsteele09/go-auth-gateway/cookie"
	"github.com/jrsteele09/go-auth-gateway/internal/config"
	"github.com/jrsteele09/go-auth-gateway/keyset"
	"github.com/jrsteele09/go-auth-gateway/provider"
	"github.com/jrsteele09/go-auth-gateway/refresh"
	"github.com/jrsteele09/go-auth-gateway/server"
	"github.com/jrsteele09/go-auth-gateway/server/authflowrepo"
	"github.com/jrsteele09/go-auth-gateway/sessions/sqliterepo"
	"github.com/jrsteele09/go-auth-gateway/verifier"
)

func main() {
	for {
		if err := run(); err != nil {
			log.Fatal().Err(err).Msg("Error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	initLogging(c)
	displayAppname(c.GetAppName())

	handler, cleanup, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer cleanup()

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(httpServer)
	waitForStopSignal()
	returnError = shutdown(httpServer)
	return returnError
}

func bootstrap(c config.Config) (http.Handler, func(), error) {
	ctx := context.Background()

	providerClient, err := provider.New(ctx, c, provider.WithLogger(log.Logger))
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to identity provider: %w", err)
	}

	keyCache := keyset.New(providerClient.JWKSURL(),
		keyset.WithTTL(c.GetKeySetTTL()),
		keyset.WithHTTPClient(&http.Client{Timeout: c.GetProviderTimeout()}),
		keyset.WithLogger(log.Logger),
	)

	tokenVerifier := verifier.New(keyCache, providerClient.Issuer(), providerClient.ClientID(),
		verifier.WithSkew(c.GetClockSkew()),
	)

	if err := os.MkdirAll(c.GetDataFolder(), 0o750); err != nil {
		return nil, nil, fmt.Errorf("creating data folder: %w", err)
	}
	sessionRepo, err := sqliterepo.New(filepath.Join(c.GetDataFolder(), "sessions.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening session store: %w", err)
	}

	coordinator := refresh.New(providerClient, sessionRepo,
		refresh.WithJoinWait(c.GetRefreshJoinTimeout()),
		refresh.WithLogger(log.Logger),
	)

	cookies, err := cookie.New(c.GetCookieName(), []byte(c.GetCookieSecret()),
		cookie.WithDomain(c.GetCookieDomain()),
	)
	if err != nil {
		_ = sessionRepo.Close()
		return nil, nil, fmt.Errorf("configuring cookie transport: %w", err)
	}

	authService := auth.New(providerClient, tokenVerifier, coordinator, sessionRepo, cookies,
		auth.WithMaxSessionAge(c.GetMaxSessionAge()),
		auth.WithLogger(log.Logger),
	)

	srv := server.New(c, authService, providerClient, authflowrepo.NewInMemoryRepo())
	cleanup := func() {
		_ = sessionRepo.Close()
	}
	return srv, cleanup, nil
}

func initLogging(c config.Config) {
	if c.GetEnv() == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func listenAndServe(httpServer *http.Server) error {
	log.Info().Str("addr", httpServer.Addr).Msg("Server listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(httpServer *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
