package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/jmerrifield20/authgate/internal/config"
	"github.com/jmerrifield20/authgate/internal/database"
	"github.com/jmerrifield20/authgate/internal/users"
	"github.com/spf13/cobra"
)

var userFormat string

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Create and inspect user records",
}

func init() {
	userCmd.PersistentFlags().StringVar(&userFormat, "format", "text", "Output format: text or json")
	userCmd.AddCommand(userCreateCmd)
	userCmd.AddCommand(userShowCmd)
}

// ── user create ──────────────────────────────────────────────────────────────

var newUser users.NewUser

var (
	newUserPicture string
	newUserCountry string
)

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a new user record",
	Long: `create validates and stores a new user. The password must already be
hashed; authgate stores the value as given.

  authgate user create --email jane@example.com --username jane_doe \
    --password-hash '$2a$10$...' --first-name Jane --last-name Doe`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("picture") {
			newUser.ProfilePictureURL = &newUserPicture
		}
		if cmd.Flags().Changed("country") {
			newUser.Country = &newUserCountry
		}

		return withUserService(cmd.Context(), func(svc *users.Service) error {
			u, err := svc.Register(cmd.Context(), newUser)
			if err != nil {
				return describeUserError(err)
			}
			return printUser(cmd.OutOrStdout(), u)
		})
	},
}

func init() {
	f := userCreateCmd.Flags()
	f.StringVar(&newUser.Email, "email", "", "Email address")
	f.StringVar(&newUser.Username, "username", "", "Username (letters, digits, underscore)")
	f.StringVar(&newUser.PasswordHash, "password-hash", "", "Pre-hashed password")
	f.StringVar(&newUser.FirstName, "first-name", "", "First name")
	f.StringVar(&newUser.LastName, "last-name", "", "Last name")
	f.StringVar(&newUserPicture, "picture", "", "Profile picture URL (jpg, jpeg, png, gif, webp)")
	f.StringVar(&newUserCountry, "country", "", "Country")
}

// ── user show ────────────────────────────────────────────────────────────────

var userShowCmd = &cobra.Command{
	Use:   "show <email|username>",
	Short: "Look up a user by email or username",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		return withUserService(cmd.Context(), func(svc *users.Service) error {
			var (
				u   *users.User
				err error
			)
			if strings.Contains(key, "@") {
				u, err = svc.FindByEmail(cmd.Context(), key)
			} else {
				u, err = svc.FindByUsername(cmd.Context(), key)
			}
			if err != nil {
				return describeUserError(err)
			}
			return printUser(cmd.OutOrStdout(), u)
		})
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

func withUserService(ctx context.Context, fn func(*users.Service) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadStorage(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := database.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(users.NewService(store.Users, logger))
}

func describeUserError(err error) error {
	var verr *users.ValidationError
	switch {
	case errors.As(err, &verr):
		return fmt.Errorf("invalid user:\n%s", formatFieldErrors(verr))
	case errors.Is(err, users.ErrNotFound):
		return errors.New("user not found")
	default:
		return err
	}
}

func formatFieldErrors(verr *users.ValidationError) string {
	var b strings.Builder
	for _, k := range verr.FieldNames() {
		fmt.Fprintf(&b, "  %s: %s\n", k, verr.Fields[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func printUser(w io.Writer, u *users.User) error {
	view := u.Public()
	if userFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", view.ID)
	fmt.Fprintf(tw, "Username\t%s\n", view.Username)
	fmt.Fprintf(tw, "Email\t%s\n", view.Email)
	fmt.Fprintf(tw, "Name\t%s\n", view.FullName)
	if view.ProfilePictureURL != nil {
		fmt.Fprintf(tw, "Picture\t%s\n", *view.ProfilePictureURL)
	}
	if view.Country != nil {
		fmt.Fprintf(tw, "Country\t%s\n", *view.Country)
	}
	fmt.Fprintf(tw, "Created\t%s\n", view.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	return tw.Flush()
}
