package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"certify-manager/internal/database"
	"certify-manager/internal/model"
)

// VaultRepository stores ACME registrations, authorized identifiers and issued certificates
type VaultRepository struct {
	db *database.DB
}

func NewVaultRepository(db *database.DB) *VaultRepository {
	return &VaultRepository{db: db}
}

func (r *VaultRepository) ListRegistrations(ctx context.Context) ([]model.Registration, error) {
	query := `
		SELECT id, email, account, created_at
		FROM acme_registrations
		ORDER BY created_at, email
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations: %w", err)
	}
	defer rows.Close()

	regs := []model.Registration{}
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(&reg.ID, &reg.EmailAddress, &reg.Account, &reg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func (r *VaultRepository) GetRegistrationByEmail(ctx context.Context, email string) (*model.Registration, error) {
	query := `
		SELECT id, email, account, created_at
		FROM acme_registrations
		WHERE email = $1
	`

	reg := &model.Registration{}
	err := r.db.QueryRowContext(ctx, query, email).Scan(&reg.ID, &reg.EmailAddress, &reg.Account, &reg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get registration: %w", err)
	}
	return reg, nil
}

// SaveRegistration inserts or replaces the account stored for the registration email
func (r *VaultRepository) SaveRegistration(ctx context.Context, reg *model.Registration) error {
	if reg.ID == "" {
		reg.ID = uuid.NewString()
	}

	query := `
		INSERT INTO acme_registrations (id, email, account)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE SET account = EXCLUDED.account
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query, reg.ID, reg.EmailAddress, reg.Account).Scan(&reg.ID, &reg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save registration: %w", err)
	}
	return nil
}

// DeleteRegistrationsExcept removes every registration other than email
func (r *VaultRepository) DeleteRegistrationsExcept(ctx context.Context, email string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM acme_registrations WHERE email <> $1`, email)
	if err != nil {
		return 0, fmt.Errorf("failed to delete registrations: %w", err)
	}
	return result.RowsAffected()
}

func (r *VaultRepository) ListIdentifiers(ctx context.Context) ([]model.VaultIdentifier, error) {
	query := `
		SELECT id, domain, group_id, status, created_at
		FROM vault_identifiers
		ORDER BY group_id, created_at, domain
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list identifiers: %w", err)
	}
	defer rows.Close()

	identifiers := []model.VaultIdentifier{}
	for rows.Next() {
		var id model.VaultIdentifier
		if err := rows.Scan(&id.ID, &id.Domain, &id.GroupID, &id.Status, &id.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		identifiers = append(identifiers, id)
	}
	return identifiers, rows.Err()
}

func (r *VaultRepository) SaveIdentifier(ctx context.Context, identifier *model.VaultIdentifier) error {
	if identifier.ID == "" {
		identifier.ID = uuid.NewString()
	}
	if identifier.Status == "" {
		identifier.Status = model.IdentifierStatusValid
	}

	query := `
		INSERT INTO vault_identifiers (id, domain, group_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (domain, group_id) DO UPDATE SET status = EXCLUDED.status
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		identifier.ID,
		identifier.Domain,
		identifier.GroupID,
		identifier.Status,
	).Scan(&identifier.ID, &identifier.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save identifier: %w", err)
	}
	return nil
}

func (r *VaultRepository) ListCertificates(ctx context.Context) ([]model.VaultCertificate, error) {
	query := `
		SELECT id, managed_site_id, primary_domain, domains, certificate_path, key_path, expires_at, created_at
		FROM vault_certificates
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	defer rows.Close()

	certs := []model.VaultCertificate{}
	for rows.Next() {
		var cert model.VaultCertificate
		err := rows.Scan(
			&cert.ID,
			&cert.ManagedSiteID,
			&cert.PrimaryDomain,
			pq.Array(&cert.Domains),
			&cert.CertificatePath,
			&cert.KeyPath,
			&cert.ExpiresAt,
			&cert.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan certificate: %w", err)
		}
		certs = append(certs, cert)
	}
	return certs, rows.Err()
}

func (r *VaultRepository) SaveCertificate(ctx context.Context, cert *model.VaultCertificate) error {
	if cert.ID == "" {
		cert.ID = uuid.NewString()
	}

	query := `
		INSERT INTO vault_certificates (id, managed_site_id, primary_domain, domains, certificate_path, key_path, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		cert.ID,
		cert.ManagedSiteID,
		cert.PrimaryDomain,
		pq.Array(cert.Domains),
		cert.CertificatePath,
		cert.KeyPath,
		cert.ExpiresAt,
	).Scan(&cert.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save certificate: %w", err)
	}
	return nil
}
