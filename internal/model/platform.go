package model

// Platform identifies the class of site a capture came from.
type Platform string

const (
	PlatformSite                Platform = "site"
	PlatformProfessionalNetwork Platform = "professional-network"
	PlatformCodeHost            Platform = "code-host"
	PlatformNews                Platform = "news"
	PlatformFundingDB           Platform = "funding-db"
	PlatformBusinessDirectory   Platform = "business-directory"

	// PlatformAny is valid only on rules, never on captures.
	PlatformAny Platform = "any"
)

// AllPlatforms returns the platforms a capture may carry.
func AllPlatforms() []Platform {
	return []Platform{
		PlatformSite,
		PlatformProfessionalNetwork,
		PlatformCodeHost,
		PlatformNews,
		PlatformFundingDB,
		PlatformBusinessDirectory,
	}
}

// Valid reports whether p is a known capture platform.
func (p Platform) Valid() bool {
	switch p {
	case PlatformSite, PlatformProfessionalNetwork, PlatformCodeHost,
		PlatformNews, PlatformFundingDB, PlatformBusinessDirectory:
		return true
	}
	return false
}

// Matches reports whether a rule scoped to p applies to content from other.
// A rule scoped to "any" matches every platform.
func (p Platform) Matches(other Platform) bool {
	return p == PlatformAny || p == other
}
