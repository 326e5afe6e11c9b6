package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"quadra/internal/api"
	"quadra/internal/database"
	"quadra/internal/models"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type seedCourt struct {
	models.Court `yaml:",inline"`
	Days         []string `yaml:"days"`
}

type seedFile struct {
	Users  []models.User `yaml:"users"`
	Courts []seedCourt   `yaml:"courts"`
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	var (
		seedPath  = flag.String("file", "configs/seed.yaml", "path to seed yaml with users and courts")
		dbPath    = flag.String("db", "./data/quadra.db", "path to sqlite db")
		jwtSecret = flag.String("jwt-secret", os.Getenv("JWT_SECRET"), "print a dev token per user when set")
		issuer    = flag.String("issuer", "", "token issuer")
		tokenTTL  = flag.Duration("token-ttl", 24*time.Hour, "dev token lifetime")
	)
	flag.Parse()

	data, err := os.ReadFile(*seedPath)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	seed, err := parseSeed([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return err
	}

	db, err := database.NewDB(*dbPath, &logger)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apply(ctx, db, seed); err != nil {
		return err
	}
	logger.Info().Int("users", len(seed.Users)).Int("courts", len(seed.Courts)).Msg("seed applied")

	if *jwtSecret == "" {
		return nil
	}
	for _, u := range seed.Users {
		token, err := api.SignToken(*jwtSecret, *issuer, u.ID, *tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token for %s: %w", u.ID, err)
		}
		fmt.Printf("%s\t%s\t%s\n", u.ID, u.Role, token)
	}
	return nil
}

func parseSeed(data []byte) (*seedFile, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if len(seed.Users) == 0 && len(seed.Courts) == 0 {
		return nil, fmt.Errorf("seed has no users or courts")
	}

	for i, u := range seed.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("user #%d: id is required", i+1)
		}
		switch u.Role {
		case models.RoleOwner, models.RolePlayer, models.RoleAdmin:
		case "":
			seed.Users[i].Role = models.RolePlayer
		default:
			return nil, fmt.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
	}

	for i := range seed.Courts {
		c := &seed.Courts[i]
		if c.ID == "" || c.OwnerID == "" {
			return nil, fmt.Errorf("court #%d: id and owner_id are required", i+1)
		}
		for _, d := range c.Days {
			day, ok := parseDay(d)
			if !ok {
				return nil, fmt.Errorf("court %s: unknown day %q", c.ID, d)
			}
			c.OpenDays = append(c.OpenDays, day)
		}
		if _, _, err := c.OpeningWindow(time.Now()); err != nil {
			return nil, err
		}
	}
	return &seed, nil
}

// parseDay accepts full or three-letter English day names.
func parseDay(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	day, ok := weekdays[s[:3]]
	return day, ok
}

func apply(ctx context.Context, db *database.DB, seed *seedFile) error {
	for i := range seed.Users {
		if err := db.UpsertUser(ctx, &seed.Users[i]); err != nil {
			return fmt.Errorf("upsert user %s: %w", seed.Users[i].ID, err)
		}
	}
	for i := range seed.Courts {
		c := seed.Courts[i].Court
		if err := db.UpsertCourt(ctx, &c); err != nil {
			return fmt.Errorf("upsert court %s: %w", c.ID, err)
		}
	}
	return nil
}
