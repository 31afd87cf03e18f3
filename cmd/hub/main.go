// Development signaling hub. Seeds a demo roster and prints ready-to-use
// access tokens so clients can connect without a separate auth service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teamchat/internal/config"
	"teamchat/internal/hub"
	"teamchat/internal/models"
	"teamchat/internal/utils"
)

func main() {
	configPath := flag.String("config", "teamchat.yaml", "path to the config file")
	listen := flag.String("listen", "", "listen address override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Hub.Listen = *listen
	}
	log := utils.NewLogger(cfg.Env).With().Str("component", "hub-main").Logger()

	secret := []byte(cfg.Hub.JWTSecret)
	h := hub.New(secret, log)
	users, rooms := demoRoster()
	h.Seed(users, rooms)

	for _, u := range users {
		token, err := hub.MintToken(secret, hub.Identity{UserID: u.ID, Username: u.Username, Role: u.Role}, 24*time.Hour)
		if err != nil {
			log.Fatal().Err(err).Msg("token mint failed")
		}
		log.Info().Str("user", u.ID).Str("token", token).Msg("dev access token")
	}

	srv := &http.Server{
		Addr:              cfg.Hub.Listen,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Info().Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Info().Str("listen", cfg.Hub.Listen).Msg("hub listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func demoRoster() ([]models.User, []models.Room) {
	users := []models.User{
		{ID: "alice", Username: "alice", Role: "student"},
		{ID: "bob", Username: "bob", Role: "student"},
		{ID: "carol", Username: "carol", Role: "supervisor"},
	}
	rooms := []models.Room{
		{
			Key:  "general",
			Name: "General",
			Type: models.RoomPublic,
		},
		{
			Key:  "team-alpha",
			Name: "Team Alpha",
			Type: models.RoomGroup,
			Participants: []models.User{
				{ID: "alice", Username: "alice"},
				{ID: "bob", Username: "bob"},
				{ID: "carol", Username: "carol"},
			},
		},
		{
			Key:  "dm-alice-bob",
			Type: models.RoomIndividual,
			Participants: []models.User{
				{ID: "alice", Username: "alice"},
				{ID: "bob", Username: "bob"},
			},
		},
	}
	return users, rooms
}
