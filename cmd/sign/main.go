package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/eldtechnologies/rankvote/internal/crypto"
	"github.com/eldtechnologies/rankvote/internal/polls"
)

func main() {
	secret := flag.String("secret", os.Getenv("JWT_SECRET"), "Token signing secret (defaults to $JWT_SECRET)")
	pollID := flag.String("poll", "", "Poll ID")
	userID := flag.String("user", "", "User ID (generated if empty)")
	name := flag.String("name", "", "Display name")
	ttl := flag.Duration("ttl", 2*time.Hour, "Token lifetime")
	flag.Parse()

	if *secret == "" || *pollID == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "Usage: sign -poll <poll-id> -name <display-name> [-user <user-id>] [-secret <secret>] [-ttl 2h]")
		fmt.Fprintln(os.Stderr, "  Reads the secret from JWT_SECRET if -secret is not specified")
		os.Exit(1)
	}

	if *userID == "" {
		*userID = crypto.NewUserID()
	}

	authority, err := crypto.NewAuthority(*secret, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid secret: %v\n", err)
		os.Exit(1)
	}

	token, err := authority.Issue(crypto.Identity{
		PollID: polls.NormalizePollID(*pollID),
		UserID: *userID,
		Name:   *name,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	// Output token and the headers a client would send
	fmt.Printf("User: %s\n", *userID)
	fmt.Printf("Token: %s\n", token)
	fmt.Printf("Authorization: Bearer %s\n", token)
}
