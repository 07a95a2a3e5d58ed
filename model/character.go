package model

import "time"

// Character represents a player's in-game character.
type Character struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID int64     `gorm:"index:idx_account;not null" json:"account_id"`
	Name      string    `gorm:"uniqueIndex;size:32;not null" json:"name"`
	Money     int64     `gorm:"default:0" json:"money"`
	FactionID int       `gorm:"default:0" json:"faction_id"` // 0 = civilian
	OnDuty    bool      `gorm:"default:false" json:"on_duty"`
	PosX      float64   `json:"pos_x"`
	PosY      float64   `json:"pos_y"`
	PosZ      float64   `json:"pos_z"`
	Heading   float64   `json:"heading"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
