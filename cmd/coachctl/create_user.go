package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var newUser struct {
	username string
	email    string
	password string
}

// createUserCmd inserts a local user with a bcrypt password and a fresh auth
// token. Values not given as flags are prompted for.
var createUserCmd = &cobra.Command{
	Use:   "create-user",
	Short: "Create a local user with a password login",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()
		for _, f := range []struct {
			label string
			value *string
		}{
			{"Username", &newUser.username},
			{"Email", &newUser.email},
			{"Password", &newUser.password},
		} {
			if *f.value == "" {
				*f.value = prompt(reader, out, f.label)
			}
		}
		if newUser.username == "" || newUser.password == "" {
			return fmt.Errorf("username and password are required")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(newUser.password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		authToken := uuid.New().String()

		ctx := cmd.Context()
		conn, err := connect(ctx)
		if err != nil {
			return err
		}
		defer conn.Close(ctx)

		var userID int
		err = conn.QueryRow(ctx,
			`INSERT INTO users (username, email, password, auth_token)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			newUser.username, newUser.email, string(hash), authToken,
		).Scan(&userID)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}

		fmt.Fprintf(out, "\nUser created successfully!\n")
		fmt.Fprintf(out, "  ID:         %d\n", userID)
		fmt.Fprintf(out, "  Username:   %s\n", newUser.username)
		fmt.Fprintf(out, "  Auth Token: %s\n", authToken)
		return nil
	},
}

func init() {
	createUserCmd.Flags().StringVar(&newUser.username, "username", "", "login name")
	createUserCmd.Flags().StringVar(&newUser.email, "email", "", "address for check-in reminders")
	createUserCmd.Flags().StringVar(&newUser.password, "password", "", "password (prompted when empty)")
}

func prompt(r *bufio.Reader, out io.Writer, label string) string {
	fmt.Fprintf(out, "%s: ", label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
