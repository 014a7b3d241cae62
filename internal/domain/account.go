package domain

import "time"

// Account is an OAuth grant. (Provider, ProviderAccountID) is globally unique and
// a user holds at most one account per provider.
type Account struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;index:idx_accounts_user_provider,unique" json:"user_id"`
	Provider          string    `gorm:"size:32;not null;index:idx_accounts_user_provider,unique;index:idx_accounts_provider_account,unique" json:"provider"`
	ProviderAccountID string    `gorm:"size:255;not null;index:idx_accounts_provider_account,unique" json:"provider_account_id"`
	AccessToken       string    `gorm:"size:4096" json:"-"`
	RefreshToken      string    `gorm:"size:4096" json:"-"`
	ExpiresAt         *int64    `json:"-"`
	TokenType         string    `gorm:"size:32" json:"-"`
	Scope             string    `gorm:"size:512" json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
