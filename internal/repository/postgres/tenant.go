package postgres

import (
	"context"
	"fmt"

	"github.com/leasehub/tenantauth/internal/domain"
	"github.com/leasehub/tenantauth/pkg/database"
)

// maxTenantMatches caps the rows a single phone lookup may return.
const maxTenantMatches = 50

const findByContactPhoneQuery = `
		SELECT t.id::text, t.realm_id, t.name, t.enabled,
		       c.id::text, c.name, COALESCE(c.email, ''),
		       COALESCE(c.phone1, ''), COALESCE(c.phone2, ''), c.whatsapp1, c.whatsapp2
		FROM tenant_contacts c
		JOIN tenants t ON t.id = c.tenant_id
		WHERE regexp_replace(COALESCE(c.phone1, ''), '[^0-9]', '', 'g') = ANY($1)
		   OR regexp_replace(COALESCE(c.phone2, ''), '[^0-9]', '', 'g') = ANY($1)
		ORDER BY t.id, c.id
		LIMIT $2`

// TenantRepository implements repository.TenantRepository using PostgreSQL.
type TenantRepository struct {
	db     database.DBTX
	tracer *database.QueryTracer
}

// NewTenantRepository creates a new PostgreSQL-backed tenant repository.
func NewTenantRepository(db database.DBTX, tracer *database.QueryTracer) *TenantRepository {
	return &TenantRepository{db: db, tracer: tracer}
}

// FindByContactPhone returns tenants with a contact phone column matching
// one of keys after punctuation is stripped. Tenants keep query order and
// carry only their matching contacts.
func (r *TenantRepository) FindByContactPhone(ctx context.Context, keys []string) (tenants []domain.TenantIdentity, err error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, end := r.tracer.Trace(ctx, "FindTenantsByContactPhone", findByContactPhoneQuery)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, findByContactPhoneQuery, keys, maxTenantMatches)
	if err != nil {
		return nil, fmt.Errorf("query tenants by contact phone: %w", err)
	}
	defer rows.Close()

	index := make(map[string]int)
	for rows.Next() {
		var t domain.TenantIdentity
		var c domain.Contact
		if err := rows.Scan(
			&t.TenantID, &t.RealmID, &t.Name, &t.Enabled,
			&c.ID, &c.Name, &c.Email,
			&c.Phone1, &c.Phone2, &c.WhatsApp1, &c.WhatsApp2,
		); err != nil {
			return nil, fmt.Errorf("scan tenant contact row: %w", err)
		}

		i, ok := index[t.TenantID]
		if !ok {
			i = len(tenants)
			index[t.TenantID] = i
			tenants = append(tenants, t)
		}
		tenants[i].Contacts = append(tenants[i].Contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant contact rows: %w", err)
	}

	return tenants, nil
}
