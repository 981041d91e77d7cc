package model

import "time"

// Vault item types
const (
	VaultItemTypeRegistration = "registration"
	VaultItemTypeIdentifier   = "identifier"
	VaultItemTypeCertificate  = "certificate"
	VaultItemTypeGroup        = "group"
)

// ContactRegistration is a new ACME account contact
type ContactRegistration struct {
	EmailAddress               string `json:"email_address"`
	AgreedToTermsAndConditions bool   `json:"agreed_to_terms_and_conditions"`
}

// VaultItem is a node of the read-only vault tree
type VaultItem struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	ItemType string      `json:"item_type"`
	GroupID  string      `json:"group_id,omitempty"`
	Children []VaultItem `json:"children,omitempty"`
}

// Registration is a stored ACME account
type Registration struct {
	ID           string    `json:"id"`
	EmailAddress string    `json:"email_address"`
	Account      []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// VaultIdentifier is a domain identifier authorized under a certificate group
type VaultIdentifier struct {
	ID        string    `json:"id"`
	Domain    string    `json:"domain"`
	GroupID   string    `json:"group_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// VaultCertificate is an issued certificate on disk
type VaultCertificate struct {
	ID              string    `json:"id"`
	ManagedSiteID   string    `json:"managed_site_id"`
	PrimaryDomain   string    `json:"primary_domain"`
	Domains         []string  `json:"domains"`
	CertificatePath string    `json:"certificate_path"`
	KeyPath         string    `json:"key_path"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// Identifier statuses
const (
	IdentifierStatusValid = "valid"
)
