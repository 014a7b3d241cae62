package domain

const (
	ProviderCredentials = "credentials"
	ProviderGoogle      = "google"
	ProviderGitHub      = "github"
)

// MaxLoginMethods caps credentials emails plus oauth accounts per user.
const MaxLoginMethods = 2

func IsOAuthProvider(p string) bool {
	switch p {
	case ProviderGoogle, ProviderGitHub:
		return true
	default:
		return false
	}
}

func IsKnownProvider(p string) bool {
	return p == ProviderCredentials || IsOAuthProvider(p)
}
