package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joelyan00/fongbeeV1-sub002/internal/db"
)

func main() {
	email := flag.String("email", "", "Email of the user to promote to provider")
	flag.Parse()

	if *email == "" {
		log.Fatalf("usage: go run cmd/adminutil/promote_provider/main.go -email user@example.com")
	}

	// Initialize DB from environment variables
	db.Init()

	ct, err := db.Conn.Exec(context.Background(),
		`UPDATE users SET role = 'provider' WHERE email = $1`, *email)
	if err != nil {
		log.Fatalf("failed to promote user to provider: %v", err)
	}
	if ct.RowsAffected() == 0 {
		log.Fatalf("no user found with email: %s", *email)
	}

	fmt.Printf("User %s promoted to provider.\n", *email)
}
