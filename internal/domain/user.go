package domain

import (
	"strings"
	"time"
)

// AccountClass is the user's plan tier.
type AccountClass string

const (
	ClassUnlimited AccountClass = "UNLIMITED"
	ClassUltra     AccountClass = "ULTRA"
	ClassAdvance   AccountClass = "ADVANCE"
	ClassPro       AccountClass = "PRO"
	ClassFree      AccountClass = "FREE"
)

// ParseAccountClass normalizes a stored class name. Unknown names are kept so
// they fall into the default tier.
func ParseAccountClass(s string) AccountClass {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ClassFree
	}
	return AccountClass(s)
}

// ConcurrencyLimit is the number of processing jobs a user may hold.
func (c AccountClass) ConcurrencyLimit() int {
	switch c {
	case ClassUnlimited, ClassUltra, ClassAdvance:
		return 3
	case ClassPro:
		return 2
	default:
		return 1
	}
}

// CreditExempt reports whether dispatch skips the ledger debit. ADVANCE users
// bring their own provider key and pay the provider directly.
func (c AccountClass) CreditExempt() bool {
	return c == ClassUnlimited || c == ClassAdvance
}

// User is the account a job belongs to.
type User struct {
	ID                 string
	Code               string
	Class              AccountClass
	MonthlyCredits     int
	ExtraCredits       int
	TotalGenCycle      int
	LastGenerationTime *time.Time
	GroupID            *int64
	APIKey             string
	VideoCount         int
}

// Balance returns the spendable credits across both buckets.
func (u User) Balance() int {
	return u.MonthlyCredits + u.ExtraCredits
}

// BringsOwnKey reports whether the user's personal provider key replaces the
// shared credential pools.
func (u User) BringsOwnKey() bool {
	return u.Class == ClassAdvance && strings.TrimSpace(u.APIKey) != ""
}
