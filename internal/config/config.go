// Package config loads the §6 configuration table from the environment,
// falling back to a local .env file in development the way
// other_examples/manifests/Neldev2000-os-tactiactoe-backend does with
// github.com/joho/godotenv.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"tictactoe-room-server/internal/game"
)

// Config holds every tunable named in §6.
type Config struct {
	Port                    string
	RoomCodeLength          int
	RoomCodeAlphabet        string
	ReconnectionGracePeriod time.Duration
	TurnTimeout             time.Duration
	RematchWindow           time.Duration
	MaxPlayersPerRoom       int
	BoardSize               int
	IdleRoomTimeout         time.Duration
	RoomSweepInterval       time.Duration
	RoomCacheTimeout        time.Duration
	AllRoomsCacheTimeout    time.Duration
	RedisAddr               string
}

// Load reads a .env file if present (ignored if missing) and then the
// process environment, applying the §6 defaults for anything unset.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Debug("no .env file loaded, using process environment only")
	}

	return Config{
		Port:                    envString("PORT", "8080"),
		RoomCodeLength:          envInt("ROOM_CODE_LENGTH", game.DefaultRoomCodeLength),
		RoomCodeAlphabet:        envString("ROOM_CODE_ALPHABET", game.DefaultRoomCodeAlphabet),
		ReconnectionGracePeriod: envSeconds("RECONNECTION_GRACE_PERIOD_SECONDS", 30),
		TurnTimeout:             envSeconds("TURN_TIMEOUT_SECONDS", 30),
		RematchWindow:           envSeconds("REMATCH_WINDOW_SECONDS", 30),
		MaxPlayersPerRoom:       envInt("MAX_PLAYERS_PER_ROOM", 2),
		BoardSize:               envInt("BOARD_SIZE", game.BoardSize),
		IdleRoomTimeout:         envSeconds("IDLE_ROOM_TIMEOUT_SECONDS", 300),
		RoomSweepInterval:       envSeconds("ROOM_SWEEP_INTERVAL_SECONDS", 60),
		RoomCacheTimeout:        envHours("ROOM_CACHE_TIMEOUT_HOURS", 1),
		AllRoomsCacheTimeout:    envMinutes("ALL_ROOMS_CACHE_TIMEOUT_MINUTES", 5),
		RedisAddr:               envString("REDIS_ADDR", ""),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		logrus.WithField("key", key).WithField("value", v).Warn("invalid integer config, using default")
	}
	return fallback
}

func envSeconds(key string, fallbackSeconds int) time.Duration {
	return time.Duration(envInt(key, fallbackSeconds)) * time.Second
}

func envMinutes(key string, fallbackMinutes int) time.Duration {
	return time.Duration(envInt(key, fallbackMinutes)) * time.Minute
}

func envHours(key string, fallbackHours int) time.Duration {
	return time.Duration(envInt(key, fallbackHours)) * time.Hour
}
