package app

import (
	"context"
	"fmt"
	"time"

	"github.com/petervdpas/goopcall/internal/config"
	"github.com/petervdpas/goopcall/internal/docstore"
	"github.com/petervdpas/goopcall/internal/util"
)

// storeConfig selects and configures a document backend. Peers fill it from
// the relay section, the relay server from the server section.
type storeConfig struct {
	Backend      string
	SQLitePath   string
	PollInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	URL string
}

func peerStoreConfig(peerDir string, rc config.Relay) storeConfig {
	return storeConfig{
		Backend:       rc.Backend,
		SQLitePath:    util.ResolvePath(peerDir, rc.SQLitePath),
		PollInterval:  time.Duration(rc.PollIntervalMs) * time.Millisecond,
		RedisAddr:     rc.RedisAddr,
		RedisPassword: rc.RedisPassword,
		RedisDB:       rc.RedisDB,
		RedisPrefix:   rc.RedisPrefix,
		URL:           rc.URL,
	}
}

func serverStoreConfig(peerDir string, cfg config.Config) storeConfig {
	return storeConfig{
		Backend:       cfg.Server.Backend,
		SQLitePath:    util.ResolvePath(peerDir, cfg.Server.SQLitePath),
		PollInterval:  time.Duration(cfg.Relay.PollIntervalMs) * time.Millisecond,
		RedisAddr:     cfg.Server.RedisAddr,
		RedisPassword: cfg.Server.RedisPassword,
		RedisPrefix:   cfg.Server.RedisPrefix,
	}
}

// openStore opens the backend named by sc. Closing the Store closes it.
func openStore(ctx context.Context, sc storeConfig) (*docstore.Store, error) {
	var (
		b   docstore.Backend
		err error
	)
	switch sc.Backend {
	case config.BackendMemory:
		b = docstore.NewMemory()
	case config.BackendSQLite:
		b, err = docstore.OpenSQLite(sc.SQLitePath, sc.PollInterval)
	case config.BackendRedis:
		b, err = docstore.OpenRedis(ctx, docstore.RedisConfig{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
			Prefix:   sc.RedisPrefix,
		})
	case config.BackendWS:
		dctx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
		b, err = docstore.DialWS(dctx, sc.URL, nil)
		cancel()
	default:
		return nil, fmt.Errorf("unknown relay backend %q", sc.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s relay store: %w", sc.Backend, err)
	}
	log.Infow("relay store open", "backend", sc.Backend)
	return docstore.New(b), nil
}
