package main

import (
	"context"
	"log"
	"time"

	"github.com/lmnt-app/lockd/app"
	"github.com/lmnt-app/lockd/env"
	"github.com/lmnt-app/lockd/handlers"
	"github.com/lmnt-app/lockd/metrics"
	"github.com/lmnt-app/lockd/parties"
	"github.com/lmnt-app/lockd/snapshots"
	"github.com/lmnt-app/lockd/store"
	"github.com/lmnt-app/lockd/users"
	"github.com/nats-io/nats.go"
)

func main() {
	// Initialize Prometheus metrics
	metrics.InitMetrics()
	metrics.ServeMetrics(env.MetricsAddr())

	// Connect to NATS server
	nc, err := nats.Connect(env.NatsUrl())
	if err != nil {
		log.Fatalf("Error connecting to NATS: %v", err)
	}
	defer nc.Close()
	log.Println("Connected to NATS!")

	// Wire the document store and repositories
	ms := store.NewMemStore()
	userRepo := users.NewRepository(ms)
	partyRepo := parties.NewRepository(ms, userRepo)
	inviteReg := parties.NewInviteRegistry(ms, partyRepo, userRepo, nc)

	lockd := &app.Lockd{
		Store:   ms,
		Users:   userRepo,
		Parties: partyRepo,
		Invites: inviteReg,
	}

	// Set up handlers
	handlers.RegisterUsers(nc, lockd)
	handlers.RegisterParties(nc, lockd)
	handlers.RegisterPartyInvites(nc, lockd)

	// Broadcast party snapshots to watching clients
	bridge, err := snapshots.NewBridge(ms, nc)
	if err != nil {
		log.Fatalf("Error starting snapshot bridge: %v", err)
	}
	defer bridge.Unsubscribe()

	// Periodic party count gauge
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			all, err := partyRepo.All(context.Background())
			if err != nil {
				log.Printf("Error counting parties: %v", err)
				continue
			}
			metrics.PartyCount.Set(float64(len(all)))
		}
	}()

	// Keep the service running
	select {}
}
