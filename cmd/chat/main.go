package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nicorelay/internal/config"
	"nicorelay/internal/eventlog"
	"nicorelay/internal/secret"
	"nicorelay/internal/session"
	"nicorelay/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eventStore, tokenStore, closeStore, err := buildStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open client store")
	}
	defer closeStore()

	if len(cfg.MasterKey) > 0 {
		box, err := secret.NewBox(cfg.MasterKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build secret box")
		}
		tokenStore = &storage.EncryptedTokens{Inner: tokenStore, Box: box}
	}

	events := eventlog.New(eventlog.Options{
		Store:  eventStore,
		Logger: log.Logger,
	})

	client := session.New(ctx, session.Options{
		RelayURL:     cfg.RelayURL,
		HTTPClient:   &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		Tokens:       tokenStore,
		Events:       events,
		Logger:       log.Logger,
		AuthRequired: cfg.AuthRequired,
	})

	fmt.Printf("nicorelay chat (session %s)\n", client.SessionID())
	fmt.Println("commands: /login <token>, /logout, /clear, /logs, /quit")
	for _, m := range client.Transcript() {
		printMessage(m)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}

		switch {
		case line == "/quit":
			return

		case strings.HasPrefix(line, "/login"):
			token := strings.TrimSpace(strings.TrimPrefix(line, "/login"))
			if err := client.Login(ctx, token); err != nil {
				fmt.Printf("login failed: %v\n", err)
				continue
			}
			fmt.Println("logged in")

		case line == "/logout":
			client.Logout(ctx)
			fmt.Println("logged out")

		case line == "/clear":
			client.Clear(ctx)
			fmt.Println("chat cleared")

		case line == "/logs":
			for _, e := range events.Entries(ctx) {
				fmt.Printf("%s  %-18s %v\n", e.Timestamp, e.EventType, e.Data)
			}

		default:
			reply, err := client.Send(ctx, line)
			if err != nil {
				log.Debug().Err(err).Msg("send failed")
			}
			if reply.Text == "" {
				fmt.Printf("send failed: %v\n", err)
				continue
			}
			printMessage(reply)
		}
	}
}

func buildStores(ctx context.Context, cfg *config.ClientConfig) (eventlog.Store, storage.TokenStore, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFile:
		fs, err := storage.NewFileStore(cfg.Store.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return fs, fs, func() {}, nil

	case config.StoreDriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		rs := storage.NewRedisStore(rdb)
		return rs, rs, func() { _ = rdb.Close() }, nil

	case config.StoreDriverSQLite, config.StoreDriverPostgres:
		st, err := storage.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, true, "migrations")
		if err != nil {
			return nil, nil, nil, err
		}
		return st, st, func() { _ = st.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func printMessage(m session.Message) {
	who := "nico"
	if m.Sender == session.SenderUser {
		who = "you"
	}
	fmt.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04"), who, m.Text)
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
