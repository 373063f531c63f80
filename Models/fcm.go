package Models

import "gorm.io/gorm"

// PushToken binds a device push token to the driver signed in on it.
type PushToken struct {
	gorm.Model
	Token       string  `json:"token" gorm:"uniqueIndex;size:512;not null"`
	DriverName  *string `json:"driver_name" gorm:"index"`
	DriverPhone *string `json:"driver_phone"`
	Platform    string  `json:"platform"`
}

func (PushToken) TableName() string {
	return "driver_push_tokens"
}

// DriverNotification is a broadcast (DriverName nil) or targeted message.
type DriverNotification struct {
	gorm.Model
	Title      string  `json:"title"`
	Message    string  `json:"message" gorm:"type:text"`
	DriverName *string `json:"driver_name" gorm:"index"`
	SentBy     string  `json:"sent_by"`
	Path       string  `json:"path"`
}

func (DriverNotification) TableName() string {
	return "driver_notifications"
}

// NotificationRead marks a notification as seen by one driver.
type NotificationRead struct {
	gorm.Model
	NotificationID uint   `json:"notification_id" gorm:"uniqueIndex:idx_notification_driver;not null"`
	DriverName     string `json:"driver_name" gorm:"uniqueIndex:idx_notification_driver;size:255;not null"`
}

func (NotificationRead) TableName() string {
	return "driver_notification_reads"
}
