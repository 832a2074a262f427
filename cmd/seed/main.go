package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sahilchouksey/coursemarket/config"
	"github.com/sahilchouksey/coursemarket/database"
	"github.com/sahilchouksey/coursemarket/model"
	"github.com/sahilchouksey/coursemarket/utils/auth"
	"github.com/sahilchouksey/coursemarket/utils/logging"
)

func main() {
	tokens := flag.Bool("tokens", true, "print demo access tokens for the seeded users")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed tokens")
	flag.Parse()

	if err := config.LoadENV(); err != nil {
		logging.Warn().Err(err).Msg(".env file could not be read, using system environment variables")
	}

	env, err := config.Get()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to read configuration")
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: env.LOG_LEVEL, Format: env.LOG_FORMAT})

	store, err := database.StartGORM()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to connect to database")
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		logging.Error().Err(err).Msg("Failed to migrate database")
		os.Exit(1)
	}

	separator := strings.Repeat("=", 60)
	fmt.Println(separator)
	fmt.Println("Course Market - Database Seeding")
	fmt.Println(separator)

	if err := database.RunSeeds(store.GetDB()); err != nil {
		logging.Error().Err(err).Msg("Seeding failed")
		os.Exit(1)
	}

	if !*tokens {
		return
	}
	if env.JWT_SECRET == "" {
		fmt.Println("JWT_SECRET is not set, skipping demo tokens")
		return
	}

	manager := auth.NewJWTManager(auth.JWTConfig{
		Secret: env.JWT_SECRET,
		Expiry: *tokenTTL,
		Issuer: env.JWT_ISSUER,
	})

	var users []model.User
	if err := store.GetDB().Order("id").Find(&users).Error; err != nil {
		logging.Error().Err(err).Msg("Failed to load seeded users")
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Demo access tokens (Authorization: Bearer <token>)")
	fmt.Println(separator)
	for _, u := range users {
		token, _, err := manager.GenerateAccessToken(u.ID, u.Email, u.Role, u.TokenVersion)
		if err != nil {
			logging.Error().Err(err).Str("email", u.Email).Msg("Failed to sign token")
			os.Exit(1)
		}
		fmt.Printf("%-11s %s\n%s\n\n", u.Role, u.Email, token)
	}
}
