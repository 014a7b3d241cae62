package domain

import "time"

// User owns one or more login methods: a credentials Email and/or OAuth Accounts.
type User struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Name                string     `gorm:"size:255" json:"name,omitempty"`
	Username            string     `gorm:"size:64;uniqueIndex;not null" json:"username"`
	Image               string     `gorm:"size:1024" json:"image,omitempty"`
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"-"`
	LastFailedLogin     *time.Time `json:"-"`
	LockoutUntil        *time.Time `json:"-"`
	LastLoginAt         *time.Time `gorm:"index" json:"last_login_at,omitempty"`
	DeletionScheduledAt *time.Time `gorm:"index" json:"deletion_scheduled_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Emails              []Email    `gorm:"constraint:OnDelete:CASCADE" json:"emails"`
	Accounts            []Account  `gorm:"constraint:OnDelete:CASCADE" json:"accounts"`
}

// CredentialsEmail returns the user's password-bearing email row, if any.
func (u *User) CredentialsEmail() *Email {
	for i := range u.Emails {
		if u.Emails[i].Provider == ProviderCredentials {
			return &u.Emails[i]
		}
	}
	return nil
}

func (u *User) HasCredentials() bool {
	return u.CredentialsEmail() != nil
}

func (u *User) Account(provider string) *Account {
	for i := range u.Accounts {
		if u.Accounts[i].Provider == provider {
			return &u.Accounts[i]
		}
	}
	return nil
}

func (u *User) HasProvider(provider string) bool {
	if provider == ProviderCredentials {
		return u.HasCredentials()
	}
	return u.Account(provider) != nil
}

// MethodCount is the number of login methods counted against MaxLoginMethods.
func (u *User) MethodCount() int {
	n := len(u.Accounts)
	if u.HasCredentials() {
		n++
	}
	return n
}

func (u *User) PendingDeletion() bool {
	return u.DeletionScheduledAt != nil
}

// LoginMethods lists the providers the user can currently sign in with.
func (u *User) LoginMethods() []string {
	out := make([]string, 0, u.MethodCount())
	if u.HasCredentials() {
		out = append(out, ProviderCredentials)
	}
	for _, a := range u.Accounts {
		out = append(out, a.Provider)
	}
	return out
}

// HasEmail reports whether address belongs to any of the user's Email rows.
func (u *User) HasEmail(address string) bool {
	for _, e := range u.Emails {
		if e.Email == address {
			return true
		}
	}
	return false
}
