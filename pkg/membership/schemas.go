package membership

import (
	"time"

	"github.com/nimburion/docops/pkg/repository/document"
	"github.com/nimburion/docops/pkg/schema"
)

// Status is the lifecycle state of a member.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusLapsed Status = "lapsed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusLapsed:
		return true
	}
	return false
}

type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Member is the stored shape of a members document. The document
// identifier is the member's principal UID.
type Member struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Status    Status    `json:"status"`
	Tags      []string  `json:"tags,omitempty"`
	Address   *Address  `json:"address,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Donation struct {
	MemberID  string    `json:"memberId"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Note      string    `json:"note,omitempty"`
	DonatedAt time.Time `json:"donatedAt"`
	CreatedAt time.Time `json:"createdAt"`
}

var (
	Members = schema.MustDefine[Member]("members",
		schema.Timestamp("joinedAt"),
		schema.SetOnCreate("createdAt"),
		schema.SetOnWrite("updatedAt"),
	)
	Donations = schema.MustDefine[Donation]("donations",
		schema.Timestamp("donatedAt"),
		schema.SetOnCreate("createdAt"),
	)
)

// DefaultRules are the access rules for principal-scoped stores: members
// read and write their own document, admins read every member, donations
// belong to the member named in memberId.
func DefaultRules() map[string]document.Rule {
	return map[string]document.Rule{
		Members.Name(): {
			Read:  `resource.id == request.auth.uid || (has(request.auth.claims.role) && request.auth.claims.role == "admin")`,
			Write: `resource.id == request.auth.uid`,
		},
		Donations.Name(): {
			Read:  `resource.data.memberId == request.auth.uid`,
			Write: `request.data.memberId == request.auth.uid`,
		},
	}
}
