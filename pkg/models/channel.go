package models

// Channel represents a subscribed remote channel
type Channel struct {
	ID          string `json:"id" db:"cid"`
	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`
}
