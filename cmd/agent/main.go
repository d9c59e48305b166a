// Command agent is a reference liveness agent: it logs in, registers for
// its user, and streams random probability scores while a meeting is
// active. Useful for exercising the relay without real detector hardware.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/MaxwellShipley/OS-zoom-app/client"
)

func main() {
	var (
		server   = flag.String("server", "ws://localhost:8080/ws", "relay websocket URL")
		username = flag.String("user", "", "account username")
		password = flag.String("pass", "", "account password")
		interval = flag.Duration("interval", time.Second, "score report interval")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if *username == "" || *password == "" {
		logger.Fatal().Msg("-user and -pass are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := client.Dial(ctx, client.Options{
		ServerURL: *server,
		Interval:  *interval,
		Scores: func() (float64, float64) {
			return rand.Float64(), rand.Float64()
		},
		OnStart: func(meetingID string) {
			logger.Info().Str("meeting", meetingID).Msg("streaming started")
		},
		OnStop: func() {
			logger.Info().Msg("streaming stopped")
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("could not connect to relay")
	}

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info().Msg("signing out")
		_ = c.SignOut()
		cancel()
	}()

	if err := c.Login(*username, *password); err != nil {
		logger.Fatal().Err(err).Msg("login send failed")
	}

	go func() {
		loginCtx, loginCancel := context.WithTimeout(ctx, 10*time.Second)
		defer loginCancel()
		if err := c.AwaitLogin(loginCtx); err != nil {
			logger.Fatal().Err(err).Msg("login failed")
		}
		logger.Info().Str("user", c.UserID()).Msg("logged in, waiting for a meeting")
	}()

	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error().Err(err).Msg("connection lost")
	}
}
