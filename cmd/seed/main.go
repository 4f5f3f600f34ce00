// Command seed populates the tenant read model with development tenants
// whose contact phones use the spellings found in legacy records.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/leasehub/tenantauth/internal/config"
	"github.com/leasehub/tenantauth/migrations"
	"github.com/leasehub/tenantauth/pkg/database"
	"github.com/leasehub/tenantauth/pkg/logger"
)

// seedNamespace derives stable ids so reseeding updates rows in place.
var seedNamespace = uuid.MustParse("6f1c2a8e-3d4b-4b7a-9a51-2f0e8c7d9b10")

type contactDef struct {
	name      string
	email     string
	phone1    string
	phone2    string
	whatsapp1 bool
	whatsapp2 bool
}

type tenantDef struct {
	key      string
	realmID  string
	name     string
	enabled  bool
	contacts []contactDef
}

var devTenants = []tenantDef{
	{
		key: "ana-perez", realmID: "santo-domingo", name: "Ana Pérez", enabled: true,
		contacts: []contactDef{
			{name: "Ana Pérez", email: "ana@example.com", phone1: "(809) 555-1234", whatsapp1: true},
		},
	},
	{
		key: "james-miller", realmID: "bay-area", name: "James Miller", enabled: true,
		contacts: []contactDef{
			{name: "James Miller", phone1: "650.253.0000", whatsapp1: false, phone2: "+1 650 253 0001", whatsapp2: true},
		},
	},
	{
		key: "oliver-smith", realmID: "london", name: "Oliver Smith", enabled: true,
		contacts: []contactDef{
			{name: "Oliver Smith", email: "oliver@example.com", phone1: "+44 20 7031 3000", whatsapp1: true},
		},
	},
	{
		key: "moved-out", realmID: "santo-domingo", name: "Former Tenant", enabled: false,
		contacts: []contactDef{
			{name: "Former Tenant", phone1: "18295550100", whatsapp1: true},
		},
	},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("tenantauth-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), log)
	if err != nil {
		log.Error("failed to connect to postgres", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := seedTenants(ctx, pool, devTenants); err != nil {
		log.Error("failed to seed tenants", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("seeded tenants", slog.Int("count", len(devTenants)))
}

// seedTenants upserts tenants and replaces their contacts in one transaction.
func seedTenants(ctx context.Context, db database.DBTX, tenants []tenantDef) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range tenants {
		if err := seedTenant(ctx, tx, t); err != nil {
			return fmt.Errorf("seed tenant %q: %w", t.key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func seedTenant(ctx context.Context, tx pgx.Tx, t tenantDef) error {
	tenantID := uuid.NewSHA1(seedNamespace, []byte("tenant/"+t.key))

	if _, err := tx.Exec(ctx,
		`INSERT INTO tenants (id, realm_id, name, enabled)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		 SET realm_id = EXCLUDED.realm_id, name = EXCLUDED.name,
		     enabled = EXCLUDED.enabled, updated_at = NOW()`,
		tenantID, t.realmID, t.name, t.enabled,
	); err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM tenant_contacts WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("clear contacts: %w", err)
	}

	for i, c := range t.contacts {
		contactID := uuid.NewSHA1(seedNamespace, []byte(fmt.Sprintf("contact/%s/%d", t.key, i)))
		if _, err := tx.Exec(ctx,
			`INSERT INTO tenant_contacts (id, tenant_id, name, email, phone1, phone2, whatsapp1, whatsapp2)
			 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
			contactID, tenantID, c.name, c.email, c.phone1, c.phone2, c.whatsapp1, c.whatsapp2,
		); err != nil {
			return fmt.Errorf("insert contact %d: %w", i, err)
		}
	}
	return nil
}
