// Command dividi-token issues an API token signed with JWT_SECRET, for
// local testing and service accounts.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"dividi/internal/cli"
	"dividi/internal/core"
	apphttp "dividi/internal/http"
)

func main() {
	cli.LoadEnvFile()

	userID := flag.String("user", "", "user id (token subject)")
	name := flag.String("name", "", "display name")
	email := flag.String("email", "", "email address")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	switch {
	case secret == "":
		log.Fatal("set JWT_SECRET")
	case *userID == "":
		log.Fatal("-user is required")
	case *ttl <= 0:
		log.Fatal("-ttl must be positive")
	}

	token, err := apphttp.SignToken([]byte(secret), core.User{ID: *userID, Name: *name, Email: *email}, *ttl)
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	fmt.Println(token)
}
