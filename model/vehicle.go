package model

// Vehicle is one persisted, player-owned vehicle. The id is allocated by the
// vehicle registry, never by the database.
type Vehicle struct {
	ID         int     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	OwnerID    int64   `gorm:"index:idx_vehicle_owner;not null" json:"owner_id"`
	FactionID  int     `gorm:"default:0" json:"faction_id"`
	Model      uint32  `gorm:"not null" json:"model"`
	ParkX      float64 `json:"park_x"`
	ParkY      float64 `json:"park_y"`
	ParkZ      float64 `json:"park_z"`
	ParkRotX   float64 `json:"park_rot_x"`
	ParkRotY   float64 `json:"park_rot_y"`
	ParkRotZ   float64 `json:"park_rot_z"`
	PlateText  string  `gorm:"size:16;not null" json:"plate_text"`
	PlateStyle int     `gorm:"default:0" json:"plate_style"`
	Color1     int     `json:"color1"`
	Color2     int     `json:"color2"`
}
