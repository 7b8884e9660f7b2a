// Seed creates a demo session with a host and a small backlog so the
// API can be exercised locally without going through the REST flow.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/auth"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/config"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/repository"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer client.Disconnect(ctx)
	db := client.Database(cfg.MongoDB)

	sessions := repository.NewSessionRepo(db)
	players := repository.NewPlayerRepo(db)
	items := repository.NewItemRepo(db)

	now := time.Now()
	host := &model.Player{
		ID:           uuid.NewString(),
		Name:         "Demo Host",
		JoinedAt:     now,
		LastActiveAt: now,
	}
	session := &model.Session{
		ID:           uuid.NewString(),
		Title:        "Sprint 42 Planning",
		HostPlayerID: host.ID,
		Deck:         model.DeckFibonacci,
		Status:       model.SessionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	host.SessionID = session.ID

	if err := sessions.Create(ctx, session); err != nil {
		log.Fatal().Err(err).Msg("failed to create session")
	}
	if err := players.Create(ctx, host); err != nil {
		log.Fatal().Err(err).Msg("failed to create host player")
	}

	titles := []string{
		"Implement login flow",
		"Migrate billing webhooks",
		"Fix flaky search pagination",
	}
	for i, title := range titles {
		item := &model.Item{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Title:     title,
			Status:    model.ItemPending,
			Order:     i,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := items.Create(ctx, item); err != nil {
			log.Fatal().Err(err).Str("title", title).Msg("failed to create item")
		}
	}

	token, err := auth.NewService(cfg.JWTSecret).IssueToken(session.ID, host.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue host token")
	}

	fmt.Printf("session: %s\n", session.ID)
	fmt.Printf("host:    %s\n", host.ID)
	fmt.Printf("token:   %s\n", token)
}
