package service

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/google/uuid"
	"golang.org/x/net/idna"

	"certify-manager/internal/model"
)

var windowsEnvPattern = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_()]*)%`)

// BuildRequestConfig derives the request config of item from its domain selections.
//
// The item must have exactly one primary domain option. Unmaterialized items
// additionally require the website they are created from; they are assigned an
// ID and group. On error the item is left untouched.
func BuildRequestConfig(item *model.ManagedSite, website *model.SiteBindingItem) error {
	if item == nil {
		return errors.New("managed site is required")
	}

	primaries := item.PrimaryDomainOptions()
	if len(primaries) != 1 {
		return model.NewValidationError("primary_domain", model.ErrPrimaryDomainNotSet)
	}

	primary, err := ToASCIIDomain(primaries[0].Domain)
	if err != nil {
		return &model.ValidationError{
			Field:   "primary_domain",
			Message: fmt.Sprintf("invalid primary domain %q: %v", primaries[0].Domain, err),
			Err:     model.ErrInvalidDomain,
		}
	}

	if !item.IsMaterialized() && website == nil {
		return model.NewValidationError("website", model.ErrWebsiteNotSelected)
	}

	config := &model.RequestConfig{}
	if item.RequestConfig != nil {
		config = item.RequestConfig.Clone()
	}
	config.PrimaryDomain = primary
	config.SubjectAlternativeNames = item.SelectedDomains()
	config.PerformAutoConfig = true
	if config.ChallengeType == "" {
		config.ChallengeType = model.ChallengeTypeHTTP01
	}

	if !item.IsMaterialized() {
		item.ID = uuid.NewString() + ":" + website.SiteID
		item.GroupID = website.SiteID
		config.WebsiteRootPath = ExpandEnvironment(website.PhysicalPath)
	}

	item.ItemType = model.ItemTypeLetsEncryptLocal
	config.IsChanged = true
	item.RequestConfig = config

	return nil
}

// ToASCIIDomain converts an internationalized domain to its punycode form
func ToASCIIDomain(domain string) (string, error) {
	return idna.Lookup.ToASCII(domain)
}

// ExpandEnvironment expands $VAR, ${VAR} and %VAR% references in path.
// Unknown variables are left as written.
func ExpandEnvironment(path string) string {
	path = windowsEnvPattern.ReplaceAllStringFunc(path, func(m string) string {
		if v, ok := os.LookupEnv(m[1 : len(m)-1]); ok {
			return v
		}
		return m
	})

	return os.Expand(path, func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return "${" + key + "}"
	})
}
