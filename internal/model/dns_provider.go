package model

// DNS provider types for dns-01 challenges. Credentials are read by the
// provider from its standard environment variables (CLOUDFLARE_DNS_API_TOKEN,
// DUCKDNS_TOKEN, DYNU_API_KEY, AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY).
const (
	DNSProviderCloudflare = "cloudflare"
	DNSProviderDuckDNS    = "duckdns"
	DNSProviderDynu       = "dynu"
	DNSProviderRoute53    = "route53"
)

// IsSupportedDNSProvider reports whether provider can serve dns-01 challenges
func IsSupportedDNSProvider(provider string) bool {
	switch provider {
	case DNSProviderCloudflare, DNSProviderDuckDNS, DNSProviderDynu, DNSProviderRoute53:
		return true
	}
	return false
}

// IsSupportedChallengeType reports whether challengeType can be requested
func IsSupportedChallengeType(challengeType string) bool {
	return challengeType == ChallengeTypeHTTP01 || challengeType == ChallengeTypeDNS01
}
