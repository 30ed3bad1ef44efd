package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/rustyeddy/riskengine/broker"
	"github.com/rustyeddy/riskengine/broker/capital"
	"github.com/rustyeddy/riskengine/config"
	"github.com/rustyeddy/riskengine/journal"
	"github.com/rustyeddy/riskengine/market"
	"github.com/rustyeddy/riskengine/sim"
)

// backend is the broker chosen by config plus the stream feeding it, if
// any.
type backend struct {
	broker broker.Broker
	stream *capital.Stream
	sim    *sim.Engine
}

func newBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backend, error) {
	if cfg.Broker.Kind == "sim" {
		eng := sim.NewEngine(broker.Account{
			ID:       cfg.Account.ID,
			Currency: cfg.Account.Currency,
			Balance:  cfg.Account.Balance,
		})
		return &backend{broker: eng, sim: eng}, nil
	}

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	base, err := capital.BaseURL(cfg.Broker.Env)
	if err != nil {
		return nil, err
	}
	apiKey := os.Getenv("CAPITAL_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("CAPITAL_API_KEY is not set")
	}
	c := capital.NewClient(base, capital.Credentials{
		APIKey:        apiKey,
		CST:           os.Getenv("CAPITAL_CST"),
		SecurityToken: os.Getenv("CAPITAL_SECURITY_TOKEN"),
	})
	if c.Creds.CST == "" || c.Creds.SecurityToken == "" {
		ident, pass := os.Getenv("CAPITAL_IDENTIFIER"), os.Getenv("CAPITAL_PASSWORD")
		if ident == "" || pass == "" {
			return nil, fmt.Errorf("set CAPITAL_CST and CAPITAL_SECURITY_TOKEN, or CAPITAL_IDENTIFIER and CAPITAL_PASSWORD")
		}
		if err := c.Login(ctx, ident, pass); err != nil {
			return nil, err
		}
		log.Info("capital session opened", "env", cfg.Broker.Env)
	}

	c.Ticks = market.NewTickStore()
	st := capital.NewStream(cfg.StreamURL(), c.Creds, c.Ticks, log)
	return &backend{broker: c, stream: st}, nil
}

// openJournal returns nil when journaling is off.
func openJournal(cfg config.JournalConfig) (journal.Journal, *journal.SQLite, error) {
	var (
		js []journal.Journal
		db *journal.SQLite
	)
	if cfg.Type == "sqlite" || cfg.Type == "both" {
		j, err := journal.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		db = j
		js = append(js, j)
	}
	if cfg.Type == "csv" || cfg.Type == "both" {
		j, err := journal.NewCSV(cfg.OrdersFile, cfg.BracketsFile)
		if err != nil {
			if db != nil {
				db.Close()
			}
			return nil, nil, fmt.Errorf("open csv journal: %w", err)
		}
		js = append(js, j)
	}

	switch len(js) {
	case 0:
		return nil, nil, nil
	case 1:
		return js[0], db, nil
	default:
		return journal.Tee(js...), db, nil
	}
}
