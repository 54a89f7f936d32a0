package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/roster/roster/internal/auth"
	"github.com/roster/roster/internal/database"
	"github.com/roster/roster/internal/logging"
	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/repository"
)

// ctlConfig is the subset of the server configuration rosterctl needs.
type ctlConfig struct {
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	DatabaseURL string `env:"DATABASE_URL"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
}

func loadConfig(cmd *cobra.Command) (*ctlConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &ctlConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if url, _ := cmd.Flags().GetString("database-url"); url != "" {
		cfg.DatabaseURL = url
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c *ctlConfig) logger(w io.Writer) *slog.Logger {
	return slog.New(logging.NewHandler(w, c.LogFormat, c.LogLevel))
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Migrate the schema to --target, or to the latest version when --target is negative. --target 0 rolls back every migration.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			target, err := cmd.Flags().GetInt32("target")
			if err != nil {
				return err
			}
			return database.Migrate(cmd.Context(), cfg.logger(cmd.ErrOrStderr()), cfg.DatabaseURL, target)
		},
	}
	cmd.Flags().Int32("target", -1, "schema version to migrate to (-1 for latest)")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			current, latest, err := database.Status(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d of %d\n", current, latest)
			if current < latest {
				fmt.Fprintln(cmd.OutOrStdout(), "run `rosterctl migrate` to apply pending migrations")
			}
			return nil
		},
	}
}

type superuserOutput struct {
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	Email     string   `json:"email,omitempty"`
	KeyID     string   `json:"key_id"`
	Key       string   `json:"key"`
	KeyPrefix string   `json:"key_prefix"`
	Scopes    []string `json:"scopes"`
}

func newCreateSuperuserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "createsuperuser",
		Short: "Create a superuser and print its admin API key",
		Long: `Create a superuser (or reuse an existing one with the same username) and
issue an unlimited-tier API key with the admin scope. The key is printed
once and cannot be recovered later.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username, _ := cmd.Flags().GetString("username")
			email, _ := cmd.Flags().GetString("email")
			keyName, _ := cmd.Flags().GetString("key-name")
			format, _ := cmd.Flags().GetString("format")

			username = strings.TrimSpace(username)
			if username == "" {
				return errors.New("--username is required")
			}
			format = strings.ToLower(format)
			if format != "plain" && format != "json" {
				return fmt.Errorf("invalid --format %q: use plain or json", format)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			repo, err := repository.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer repo.Close()

			out, err := createSuperuser(ctx, repo, auth.EnvFor(cfg.AppEnv), username, email, keyName)
			if err != nil {
				return err
			}
			return writeSuperuser(cmd.OutOrStdout(), format, out)
		},
	}
	cmd.Flags().String("username", "", "superuser name (required)")
	cmd.Flags().String("email", "", "superuser email")
	cmd.Flags().String("key-name", "superuser", "name of the issued API key")
	cmd.Flags().String("format", "plain", "output format: plain or json")
	return cmd
}

type superuserStore interface {
	GetOrCreateUser(ctx context.Context, user *model.User) (*model.User, error)
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
}

func createSuperuser(ctx context.Context, store superuserStore, keyEnv, username, email, keyName string) (*superuserOutput, error) {
	user, err := store.GetOrCreateUser(ctx, &model.User{
		ID:          ulid.Make().String(),
		Username:    username,
		Email:       email,
		IsSuperuser: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if !user.IsSuperuser {
		return nil, fmt.Errorf("user %q already exists and is not a superuser", username)
	}

	generated, err := auth.GenerateAPIKey(keyEnv)
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	key := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        user.ID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        []string{model.ScopeAdmin},
		RateLimitTier: model.TierUnlimited,
		Name:          keyName,
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("create api key: %w", err)
	}

	return &superuserOutput{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		KeyID:     key.ID,
		Key:       generated.Plaintext,
		KeyPrefix: key.KeyPrefix,
		Scopes:    key.Scopes,
	}, nil
}

func writeSuperuser(w io.Writer, format string, out *superuserOutput) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	_, err := fmt.Fprintln(w, out.Key)
	return err
}
