// Package profile holds the user attributes consulted by raffle
// eligibility rules. Profiles are owned by an upstream identity service;
// the engine only reads them.
package profile

// UserProfile carries the subset of user data eligibility predicates need.
type UserProfile struct {
	UserID       string `json:"user_id"`
	Age          int    `json:"age"`
	Country      string `json:"country"`
	Subscription string `json:"subscription"` // subscription tier, empty if none
}
