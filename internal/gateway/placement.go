package gateway

// Collection names the backend resource family a request targets. Each one
// carries its own authentication contract.
type Collection string

const (
	Accounts    Collection = "accounts"
	Budgets     Collection = "budgets"
	Debts       Collection = "debts"
	Investments Collection = "investments"
	Credits     Collection = "credits"
	Users       Collection = "users"
	// Auth covers the anonymous endpoints: login, register, password reset.
	Auth Collection = "auth"
	// AuthAccount covers the auth endpoints that act on the logged-in user.
	AuthAccount Collection = "auth-account"
)

// EmailPlacement says where, if anywhere, the user's email travels.
type EmailPlacement int

const (
	EmailNone EmailPlacement = iota
	EmailHeader
	EmailQuery
)

// Placement is the authentication contract of one collection.
type Placement struct {
	APIKey bool
	Email  EmailPlacement
}

const (
	HeaderAPIKey    = "X-API-KEY"
	HeaderUserEmail = "userEmail"
	QueryUserEmail  = "userEmail"
)

// DefaultPlacements is the backend's per-collection auth contract. Budgets and
// debts want the email as a header, investments as a query parameter.
var DefaultPlacements = map[Collection]Placement{
	Accounts:    {APIKey: true},
	Budgets:     {APIKey: true, Email: EmailHeader},
	Debts:       {APIKey: true, Email: EmailHeader},
	Investments: {APIKey: true, Email: EmailQuery},
	Credits:     {APIKey: true},
	Users:       {APIKey: true},
	Auth:        {},
	AuthAccount: {APIKey: true},
}

func clonePlacements(src map[Collection]Placement) map[Collection]Placement {
	out := make(map[Collection]Placement, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
