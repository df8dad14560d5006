package model

import "time"

// UnlimitedGrant exempts a user from the daily generation limit.
type UnlimitedGrant struct {
	UserID    string    `gorm:"type:varchar(255);primaryKey" json:"user_id"`
	GrantedBy string    `gorm:"type:varchar(255)" json:"granted_by"`
	Reason    string    `gorm:"type:varchar(500)" json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}
