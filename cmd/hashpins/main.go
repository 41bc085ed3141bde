// Command hashpins backfills hashed credentials for cards that still carry a
// plaintext PIN. Cards already on scrypt or pbkdf2 hashes are left alone, so
// the command is safe to re-run.
//
// Point it at the live database with DATABASE_URL (Postgres) or SQLITE_PATH.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/mbd888/atmguard/internal/pin"
	"github.com/mbd888/atmguard/internal/store"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	st, cleanup := openStore(ctx)
	defer cleanup()

	cards, err := st.ListCards(ctx)
	if err != nil {
		log.Fatalf("List cards: %v", err)
	}

	migrated := 0
	for _, card := range cards {
		if !card.PIN.Legacy() {
			continue
		}
		cred, err := pin.Hash(string(card.PIN))
		if err != nil {
			log.Fatalf("Hash PIN for %s: %v", card.CardID, err)
		}
		if err := st.UpdateCredential(ctx, card.CardID, cred); err != nil {
			log.Fatalf("Update credential for %s: %v", card.CardID, err)
		}
		log.Printf("Hashed PIN for card %s", card.CardID)
		migrated++
	}
	log.Printf("Done: %d of %d cards migrated", migrated, len(cards))
}

func openStore(ctx context.Context) (store.Store, func()) {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			log.Fatalf("Open database: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("Connect to database: %v", err)
		}
		return store.NewPostgresStore(db), func() { _ = db.Close() }
	}

	if path := os.Getenv("SQLITE_PATH"); path != "" {
		s, err := store.OpenSQLite(path)
		if err != nil {
			log.Fatalf("Open sqlite: %v", err)
		}
		return s, func() { _ = s.Close() }
	}

	log.Fatal("DATABASE_URL or SQLITE_PATH environment variable is required")
	return nil, nil
}
