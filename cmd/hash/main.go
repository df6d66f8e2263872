// Package main prints the bcrypt hash of a password using the same cost the
// server applies at login. It is used when seeding or resetting rows in the
// users table by hand.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/configvault/configvault/internal/auth"
)

func main() {
	password := ""
	if len(os.Args) > 1 {
		password = os.Args[1]
	} else {
		// Read from stdin so the password stays out of shell history
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			log.Fatalf("usage: %s <password>  (or pipe it on stdin)", os.Args[0])
		}
		password = strings.TrimRight(line, "\r\n")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(hash)
}
