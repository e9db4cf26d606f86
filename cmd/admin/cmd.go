package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"feedbackhub/internal/server/auth"
	"feedbackhub/internal/server/database"
	"feedbackhub/internal/server/service"
)

const minPasswordLength = 6

var (
	readPasswordFunc = term.ReadPassword // replaced in tests

	errHelp = errors.New("help provided")
)

type commandLine struct {
	accounts service.AccountStore
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  adduser -username USERNAME -email EMAIL [-role admin|student] - create an account, the password is prompted next")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - set a new password, prompted next")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "adduser":
		fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		username := fs.String("username", "", "Login name of the new account.")
		email := fs.String("email", "", "Email address of the new account.")
		role := fs.String("role", string(database.RoleAdmin), "Account role: admin or student.")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if *username == "" || *email == "" {
			fs.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		return cli.addUser(ctx, *username, *email, database.Role(*role), pwd)

	case "resetpassword":
		fs := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
		fs.SetOutput(cli.out)
		username := fs.String("username", "", "The account's username or email.")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		if *username == "" {
			fs.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		return cli.resetPassword(ctx, *username, pwd)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password: ")
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) < minPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters long", minPasswordLength)
	}
	return string(pwd), nil
}

// addUser creates a password account.
func (cli *commandLine) addUser(ctx context.Context, username, email string, role database.Role, pwd string) error {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	exists, err := cli.accounts.AccountExists(ctx, username, email)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("username or email already registered")
	}

	hash, err := auth.HashPassword(pwd)
	if err != nil {
		return err
	}
	a := &database.Account{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := cli.accounts.CreateAccount(ctx, a); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created %s account %s (%s)\n", a.Role, a.Username, a.ID)
	return nil
}

func (cli *commandLine) resetPassword(ctx context.Context, usernameOrEmail, pwd string) error {
	key := strings.TrimSpace(usernameOrEmail)
	a, err := cli.accounts.GetAccountByUsername(ctx, key)
	if errors.Is(err, database.ErrNotFound) {
		a, err = cli.accounts.GetAccountByEmail(ctx, strings.ToLower(key))
	}
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(pwd)
	if err != nil {
		return err
	}
	if err := cli.accounts.UpdateAccountPassword(ctx, a.ID, hash); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "password updated for %s\n", a.Username)
	return nil
}
