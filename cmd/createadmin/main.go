// Command createadmin adds an admin account. Missing names are prompted for
// and the password is always read from the terminal twice.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"classroll/internal/attendance"
	"classroll/internal/config"
	"classroll/internal/store"
)

var (
	usernameFlag  = flag.String("username", "", "admin username")
	firstnameFlag = flag.String("firstname", "", "admin first name")
	lastnameFlag  = flag.String("lastname", "", "admin last name")
)

func main() {
	flag.Parse()
	log.SetFlags(0)
	cfg := config.Load()

	in := bufio.NewReader(os.Stdin)
	firstname := ask(in, "Enter firstname: ", *firstnameFlag)
	lastname := ask(in, "Enter lastname: ", *lastnameFlag)
	username := ask(in, "Enter username: ", *usernameFlag)
	password, err := readPassword(in)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := store.NewDB(ctx, cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	repo := attendance.NewRepository(db.Client)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	admin, err := attendance.NewAdmins(repo).Create(ctx, username, firstname, lastname, password)
	var ve *attendance.ValidationError
	switch {
	case errors.As(err, &ve):
		log.Fatal(strings.Join(ve.Problems, "\n"))
	case err != nil:
		log.Fatal(err)
	}
	fmt.Printf("Created new admin %s\n", admin.Username)
}

// ask returns preset when set, otherwise prompts until a non-empty line is read.
func ask(in *bufio.Reader, prompt, preset string) string {
	for preset == "" {
		fmt.Print(prompt)
		line, err := in.ReadString('\n')
		preset = strings.TrimSpace(line)
		if err == io.EOF && preset == "" {
			log.Fatal("input closed")
		}
		if preset == "" {
			fmt.Println("Value cannot be empty")
		}
	}
	return preset
}

func readPassword(in *bufio.Reader) (string, error) {
	for {
		password, err := secret(in, "Enter password: ")
		if err != nil {
			return "", err
		}
		confirm, err := secret(in, "Confirm password: ")
		if err != nil {
			return "", err
		}
		switch {
		case len(password) < attendance.MinPasswordLen:
			fmt.Printf("Password should be at least %d characters\n", attendance.MinPasswordLen)
		case password != confirm:
			fmt.Println("Passwords do not match")
		default:
			return password, nil
		}
	}
}

// secret reads without echo on a terminal and falls back to a plain line
// when stdin is piped.
func secret(in *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		return string(b), err
	}
	line, err := in.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
