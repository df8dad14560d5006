package model

import "time"

// UsageCounter is one user's AI generation count for one UTC calendar day.
// At most one row exists per (UserID, Day).
type UsageCounter struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	UserID    string    `gorm:"type:varchar(255);not null;uniqueIndex:idx_usage_user_day" json:"user_id"`
	Day       string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_usage_user_day;index" json:"day"`
	Count     int       `gorm:"column:generation_count;default:0;not null" json:"count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DayLayout is the format of UsageCounter.Day.
const DayLayout = "2006-01-02"

// DayOf returns the UTC calendar day of t in DayLayout form.
func DayOf(t time.Time) string {
	return t.UTC().Format(DayLayout)
}
