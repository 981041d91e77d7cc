package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"certify-manager/internal/database"
	"certify-manager/internal/model"
)

type ManagedSiteRepository struct {
	db *database.DB
}

func NewManagedSiteRepository(db *database.DB) *ManagedSiteRepository {
	return &ManagedSiteRepository{db: db}
}

// List returns every managed site in stored display order
func (r *ManagedSiteRepository) List(ctx context.Context) ([]*model.ManagedSite, error) {
	query := `
		SELECT id, group_id, name, item_type, include_in_auto_renew,
			domain_options, request_config, date_renewed, date_expiry
		FROM managed_sites
		ORDER BY position, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list managed sites: %w", err)
	}
	defer rows.Close()

	sites := []*model.ManagedSite{}
	for rows.Next() {
		site, err := scanManagedSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate managed sites: %w", err)
	}

	return sites, nil
}

// ReplaceAll stores sites as the complete managed site list
func (r *ManagedSiteRepository) ReplaceAll(ctx context.Context, sites []*model.ManagedSite) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(sites))
	for _, site := range sites {
		if site.ID != "" {
			ids = append(ids, site.ID)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM managed_sites WHERE NOT (id = ANY($1))`, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to prune managed sites: %w", err)
	}

	query := `
		INSERT INTO managed_sites (id, group_id, name, item_type, include_in_auto_renew,
			domain_options, request_config, date_renewed, date_expiry, position, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			group_id = EXCLUDED.group_id,
			name = EXCLUDED.name,
			item_type = EXCLUDED.item_type,
			include_in_auto_renew = EXCLUDED.include_in_auto_renew,
			domain_options = EXCLUDED.domain_options,
			request_config = EXCLUDED.request_config,
			date_renewed = EXCLUDED.date_renewed,
			date_expiry = EXCLUDED.date_expiry,
			position = EXCLUDED.position,
			updated_at = NOW()
	`

	position := 0
	for _, site := range sites {
		if site.ID == "" {
			continue
		}

		options, err := json.Marshal(site.DomainOptions)
		if err != nil {
			return fmt.Errorf("failed to encode domain options for %s: %w", site.ID, err)
		}
		config, err := json.Marshal(site.RequestConfig)
		if err != nil {
			return fmt.Errorf("failed to encode request config for %s: %w", site.ID, err)
		}

		_, err = tx.ExecContext(ctx, query,
			site.ID,
			site.GroupID,
			site.Name,
			site.ItemType,
			site.IncludeInAutoRenew,
			options,
			config,
			site.DateRenewed,
			site.DateExpiry,
			position,
		)
		if err != nil {
			return fmt.Errorf("failed to save managed site %s: %w", site.ID, err)
		}
		position++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit managed sites: %w", err)
	}
	return nil
}

func scanManagedSite(rows *sql.Rows) (*model.ManagedSite, error) {
	site := model.NewManagedSite()
	var options, config []byte
	var renewed, expiry sql.NullTime

	err := rows.Scan(
		&site.ID,
		&site.GroupID,
		&site.Name,
		&site.ItemType,
		&site.IncludeInAutoRenew,
		&options,
		&config,
		&renewed,
		&expiry,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan managed site: %w", err)
	}

	if len(options) > 0 {
		if err := json.Unmarshal(options, &site.DomainOptions); err != nil {
			return nil, fmt.Errorf("failed to decode domain options for %s: %w", site.ID, err)
		}
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, site.RequestConfig); err != nil {
			return nil, fmt.Errorf("failed to decode request config for %s: %w", site.ID, err)
		}
	}
	if renewed.Valid {
		t := renewed.Time
		site.DateRenewed = &t
	}
	if expiry.Valid {
		t := expiry.Time
		site.DateExpiry = &t
	}

	site.MarkAllChangesCompleted()
	return site, nil
}
