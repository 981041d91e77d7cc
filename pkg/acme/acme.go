package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/providers/dns/cloudflare"
	"github.com/go-acme/lego/v4/providers/dns/duckdns"
	"github.com/go-acme/lego/v4/providers/dns/dynu"
	"github.com/go-acme/lego/v4/providers/dns/route53"
	"github.com/go-acme/lego/v4/registration"

	"certify-manager/internal/model"
)

var certDirPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// CertificateDirName maps a managed item ID to a safe directory name
func CertificateDirName(managedItemID string) string {
	return strings.ReplaceAll(managedItemID, ":", "_")
}

// validateCertID validates that the certificate directory name is safe for use in file paths
func validateCertID(certID string) error {
	if certID == "" {
		return fmt.Errorf("certificate ID cannot be empty")
	}

	if strings.Contains(certID, "..") || strings.Contains(certID, "/") || strings.Contains(certID, "\\") {
		return fmt.Errorf("certificate ID contains invalid characters")
	}

	if strings.Contains(certID, "\x00") {
		return fmt.Errorf("certificate ID contains null bytes")
	}

	if !certDirPattern.MatchString(certID) {
		return fmt.Errorf("certificate ID must be alphanumeric with dots, hyphens or underscores")
	}

	if len(certID) > 200 {
		return fmt.Errorf("certificate ID is too long")
	}

	return nil
}

// ACMEUser implements the registration.User interface
type ACMEUser struct {
	Email        string                 `json:"email"`
	Registration *registration.Resource `json:"registration"`
	Key          crypto.PrivateKey      `json:"-"`
	KeyPEM       string                 `json:"key_pem"`
}

func (u *ACMEUser) GetEmail() string {
	return u.Email
}

func (u *ACMEUser) GetRegistration() *registration.Resource {
	return u.Registration
}

func (u *ACMEUser) GetPrivateKey() crypto.PrivateKey {
	return u.Key
}

// ToJSON serializes the user to JSON (for storing in DB)
func (u *ACMEUser) ToJSON() ([]byte, error) {
	return json.Marshal(u)
}

// FromJSON deserializes the user from JSON
func (u *ACMEUser) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, u); err != nil {
		return err
	}

	if u.KeyPEM != "" {
		block, _ := pem.Decode([]byte(u.KeyPEM))
		if block == nil {
			return fmt.Errorf("failed to decode key PEM")
		}
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return fmt.Errorf("failed to parse EC private key: %w", err)
		}
		u.Key = key
	}

	return nil
}

// ObtainRequest describes one certificate order
type ObtainRequest struct {
	Domains       []string
	ChallengeType string
	// WebrootPath receives HTTP-01 challenge files when set; otherwise the
	// service-wide webroot is used.
	WebrootPath string
	DNSProvider string
}

// CertificateResult contains the issued certificate data
type CertificateResult struct {
	CertificatePEM       string
	PrivateKeyPEM        string
	IssuerCertificatePEM string
	ExpiresAt            time.Time
}

// Service handles ACME certificate operations
type Service struct {
	caURL      string
	certsDir   string
	webrootDir string
}

// NewService creates a new ACME service against the given directory URL
func NewService(caURL, certsDir string) *Service {
	return &Service{
		caURL:      caURL,
		certsDir:   certsDir,
		webrootDir: filepath.Join(certsDir, "acme-challenge"),
	}
}

// SetWebrootDir sets the fallback webroot directory for HTTP-01 challenges
func (s *Service) SetWebrootDir(dir string) {
	s.webrootDir = dir
}

// CAURL returns the ACME directory this service issues against
func (s *Service) CAURL() string {
	return s.caURL
}

// CreateUser creates a new ACME user with a generated key
func (s *Service) CreateUser(email string) (*ACMEUser, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	keyBytes, err := x509.MarshalECPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "EC PRIVATE KEY",
		Bytes: keyBytes,
	})

	return &ACMEUser{
		Email:  email,
		Key:    privateKey,
		KeyPEM: string(keyPEM),
	}, nil
}

// Register creates the ACME account for user, agreeing to the CA terms
func (s *Service) Register(user *ACMEUser) error {
	client, err := s.newClient(user)
	if err != nil {
		return err
	}

	reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return fmt.Errorf("failed to register ACME account: %w", err)
	}
	user.Registration = reg
	return nil
}

// ObtainCertificate orders a certificate for req.Domains using the requested challenge
func (s *Service) ObtainCertificate(user *ACMEUser, req ObtainRequest) (*CertificateResult, error) {
	if len(req.Domains) == 0 {
		return nil, fmt.Errorf("at least one domain is required")
	}
	if user == nil || user.Key == nil {
		return nil, fmt.Errorf("ACME user with a private key is required")
	}

	client, err := s.newClient(user)
	if err != nil {
		return nil, err
	}

	switch req.ChallengeType {
	case model.ChallengeTypeDNS01:
		dnsProvider, err := s.createDNSProvider(req.DNSProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create DNS provider: %w", err)
		}
		if err := client.Challenge.SetDNS01Provider(dnsProvider); err != nil {
			return nil, fmt.Errorf("failed to set DNS provider: %w", err)
		}
	default:
		webroot := req.WebrootPath
		if webroot == "" {
			webroot = s.webrootDir
		}
		challengePath := filepath.Join(webroot, ".well-known", "acme-challenge")
		if err := os.MkdirAll(challengePath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create webroot directory: %w", err)
		}
		if err := client.Challenge.SetHTTP01Provider(&webrootProvider{path: webroot}); err != nil {
			return nil, fmt.Errorf("failed to set HTTP provider: %w", err)
		}
	}

	if user.Registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, fmt.Errorf("failed to register ACME account: %w", err)
		}
		user.Registration = reg
	}

	certificates, err := client.Certificate.Obtain(certificate.ObtainRequest{
		Domains: req.Domains,
		Bundle:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to obtain certificate: %w", err)
	}

	expiresAt, err := getCertificateExpiry(certificates.Certificate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertificateResult{
		CertificatePEM:       string(certificates.Certificate),
		PrivateKeyPEM:        string(certificates.PrivateKey),
		IssuerCertificatePEM: string(certificates.IssuerCertificate),
		ExpiresAt:            expiresAt,
	}, nil
}

func (s *Service) newClient(user *ACMEUser) (*lego.Client, error) {
	config := lego.NewConfig(user)
	config.CADirURL = s.caURL
	config.Certificate.KeyType = certcrypto.RSA2048

	client, err := lego.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create lego client: %w", err)
	}
	return client, nil
}

// webrootProvider implements the HTTP-01 challenge by copying the challenge
// file into the site's webroot
type webrootProvider struct {
	path string
}

func (w *webrootProvider) Present(domain, token, keyAuth string) error {
	challengePath := filepath.Join(w.path, ".well-known", "acme-challenge")
	if err := os.MkdirAll(challengePath, 0755); err != nil {
		return err
	}

	filePath := filepath.Join(challengePath, token)
	return os.WriteFile(filePath, []byte(keyAuth), 0644)
}

func (w *webrootProvider) CleanUp(domain, token, keyAuth string) error {
	filePath := filepath.Join(w.path, ".well-known", "acme-challenge", token)
	return os.Remove(filePath)
}

// SaveCertificateFiles saves certificate and key to files
func (s *Service) SaveCertificateFiles(certID string, certPEM, keyPEM, issuerPEM string) (certPath, keyPath string, err error) {
	if err := validateCertID(certID); err != nil {
		return "", "", fmt.Errorf("invalid certificate ID: %w", err)
	}

	certDir := filepath.Join(s.certsDir, certID)

	// Verify the resulting path is within certsDir
	cleanCertDir := filepath.Clean(certDir)
	cleanCertsDir := filepath.Clean(s.certsDir)
	if !strings.HasPrefix(cleanCertDir, cleanCertsDir+string(filepath.Separator)) {
		return "", "", fmt.Errorf("invalid certificate directory path")
	}

	if err := os.MkdirAll(certDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create cert directory: %w", err)
	}

	certPath = filepath.Join(certDir, "fullchain.pem")
	keyPath = filepath.Join(certDir, "privkey.pem")

	fullchain := certPEM
	if issuerPEM != "" && issuerPEM != certPEM {
		fullchain = certPEM + "\n" + issuerPEM
	}

	if err := os.WriteFile(certPath, []byte(fullchain), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write certificate file: %w", err)
	}

	if err := os.WriteFile(keyPath, []byte(keyPEM), 0600); err != nil {
		return "", "", fmt.Errorf("failed to write key file: %w", err)
	}

	return certPath, keyPath, nil
}

// DeleteCertificateFiles removes certificate files
func (s *Service) DeleteCertificateFiles(certID string) error {
	if err := validateCertID(certID); err != nil {
		return fmt.Errorf("invalid certificate ID: %w", err)
	}

	certDir := filepath.Join(s.certsDir, certID)

	cleanCertDir := filepath.Clean(certDir)
	cleanCertsDir := filepath.Clean(s.certsDir)
	if !strings.HasPrefix(cleanCertDir, cleanCertsDir+string(filepath.Separator)) {
		return fmt.Errorf("invalid certificate directory path")
	}

	return os.RemoveAll(certDir)
}

// createDNSProvider creates a lego DNS provider; credentials come from the provider's environment variables
func (s *Service) createDNSProvider(provider string) (challenge.Provider, error) {
	switch provider {
	case model.DNSProviderCloudflare:
		return cloudflare.NewDNSProvider()
	case model.DNSProviderDuckDNS:
		return duckdns.NewDNSProvider()
	case model.DNSProviderDynu:
		return dynu.NewDNSProvider()
	case model.DNSProviderRoute53:
		return route53.NewDNSProvider()
	case "":
		return nil, fmt.Errorf("DNS provider is required for dns-01")
	default:
		return nil, fmt.Errorf("unsupported DNS provider type: %s", provider)
	}
}

// getCertificateExpiry parses a certificate and returns its expiry time
func getCertificateExpiry(certPEM []byte) (time.Time, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return time.Time{}, fmt.Errorf("failed to decode certificate PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return cert.NotAfter, nil
}

// ValidateCertificate validates a certificate PEM and returns domain names
func ValidateCertificate(certPEM string) ([]string, time.Time, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return nil, time.Time{}, fmt.Errorf("failed to decode certificate PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse certificate: %w", err)
	}

	domains := cert.DNSNames
	if cert.Subject.CommonName != "" && len(domains) == 0 {
		domains = []string{cert.Subject.CommonName}
	}

	return domains, cert.NotAfter, nil
}

// ACME directory URLs
const (
	LetsEncryptProductionURL = "https://acme-v02.api.letsencrypt.org/directory"
	LetsEncryptStagingURL    = "https://acme-staging-v02.api.letsencrypt.org/directory"
)
