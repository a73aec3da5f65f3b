package main

import (
	"context"
	"fmt"
	"time"

	"github.com/metergate/metergate/adapters/clock"
	"github.com/metergate/metergate/adapters/idgen"
	"github.com/metergate/metergate/adapters/postgres"
	"github.com/metergate/metergate/adapters/sqlite"
	"github.com/metergate/metergate/app"
	"github.com/metergate/metergate/config"
	"github.com/metergate/metergate/ports"
)

// storeSet bundles the stores management commands operate on, independent
// of the configured driver.
type storeSet struct {
	Meter ports.MeterStore
	Users ports.UserStore
	Keys  ports.KeyStore

	cfg   *config.Config
	close func()
}

func (s *storeSet) Close() {
	if s.close != nil {
		s.close()
	}
}

// Registrar builds the provisioning service the management commands use
// to mint users and keys.
func (s *storeSet) Registrar() *app.Registrar {
	return app.NewRegistrar(app.RegistrarDeps{
		Users: s.Users,
		Keys:  s.Keys,
		IDs:   idgen.UUID{},
		Clock: clock.Real{},
	}, s.cfg.Auth.KeyPrefix)
}

// openStores loads the configuration and connects to the database without
// running migrations. Use 'metergate migrate' to apply schema changes.
func openStores() (*storeSet, error) {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	switch cfg.Database.Driver {
	case "postgres":
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		db, err := postgres.Open(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return &storeSet{
			Meter: postgres.NewMeterStore(db),
			Users: postgres.NewUserStore(db),
			Keys:  postgres.NewKeyStore(db),
			cfg:   cfg,
			close: db.Close,
		}, nil

	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return &storeSet{
			Meter: sqlite.NewMeterStore(db),
			Users: sqlite.NewUserStore(db),
			Keys:  sqlite.NewKeyStore(db),
			cfg:   cfg,
			close: func() { db.Close() },
		}, nil
	}
}
