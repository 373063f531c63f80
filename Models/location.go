package Models

import "gorm.io/gorm"

// Site is a refueling location in the site directory.
type Site struct {
	gorm.Model
	SiteName  string   `json:"site_name" gorm:"index"`
	Address   string   `json:"address"`
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (Site) TableName() string {
	return "sites"
}
