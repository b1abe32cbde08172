package models

import "time"

// VerifiedProfile links a Discord user to the Habbo account they proved ownership of.
type VerifiedProfile struct {
	UserID   string    `bson:"user_id" json:"user_id"`
	Habbo    string    `bson:"habbo" json:"habbo"`
	LinkedAt time.Time `bson:"linked_at,omitempty" json:"linked_at,omitempty"`
}
