package model

// RequestConfig is the derived, self-contained input to an issuance request.
// It is rebuilt wholesale from the domain selections before every save.
type RequestConfig struct {
	PrimaryDomain                    string   `json:"primary_domain"`
	SubjectAlternativeNames          []string `json:"subject_alternative_names"`
	PerformAutoConfig                bool     `json:"perform_auto_config"`
	PerformChallengeFileCopy         bool     `json:"perform_challenge_file_copy"`
	PerformExtensionlessConfigChecks bool     `json:"perform_extensionless_config_checks"`
	PerformAutomatedCertBinding      bool     `json:"perform_automated_cert_binding"`
	EnableFailureNotifications       bool     `json:"enable_failure_notifications"`
	ChallengeType                    string   `json:"challenge_type"`
	DNSProvider                      string   `json:"dns_provider,omitempty"`
	WebsiteRootPath                  string   `json:"website_root_path"`
	IsChanged                        bool     `json:"is_changed"`
}

// Domains returns the primary domain followed by the remaining SANs, without duplicates
func (c *RequestConfig) Domains() []string {
	if c == nil || c.PrimaryDomain == "" {
		return nil
	}
	domains := []string{c.PrimaryDomain}
	seen := map[string]bool{c.PrimaryDomain: true}
	for _, san := range c.SubjectAlternativeNames {
		if san == "" || seen[san] {
			continue
		}
		seen[san] = true
		domains = append(domains, san)
	}
	return domains
}

func (c *RequestConfig) Clone() *RequestConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.SubjectAlternativeNames != nil {
		clone.SubjectAlternativeNames = append([]string(nil), c.SubjectAlternativeNames...)
	}
	return &clone
}
