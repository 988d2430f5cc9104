package referral

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
)

// RelationshipStatus defines referral relationship states
type RelationshipStatus string

const (
	StatusPending   RelationshipStatus = "pending"
	StatusQualified RelationshipStatus = "qualified"
	StatusRewarded  RelationshipStatus = "rewarded"
)

// Code binds an account to its shareable referral code. One code per
// account, created on first request and reused thereafter.
type Code struct {
	AccountID uuid.UUID `json:"account_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// Relationship links a referrer to a referred account. A referred account
// may have at most one relationship, applied once.
type Relationship struct {
	ID          uuid.UUID          `json:"id"`
	ReferrerID  uuid.UUID          `json:"referrer_id"`
	ReferredID  uuid.UUID          `json:"referred_id"`
	Status      RelationshipStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	QualifiedAt *time.Time         `json:"qualified_at,omitempty"`
}

// NewRelationship creates a pending relationship for a freshly applied code
func NewRelationship(referrerID, referredID uuid.UUID) *Relationship {
	return &Relationship{
		ID:         uuid.New(),
		ReferrerID: referrerID,
		ReferredID: referredID,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}

// Stats aggregates a referrer's program results
type Stats struct {
	TotalReferred int64 `json:"total_referred"`
	Qualified     int64 `json:"qualified"`
	Rewarded      int64 `json:"rewarded"`
	CreditsEarned int64 `json:"credits_earned"`
}

const codeLength = 10

// codeAlphabet avoids ambiguous characters (0/O, 1/I/L)
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateCode produces a random shareable referral code
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
