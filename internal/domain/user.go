package domain

// UserProfile is the slice of the users table this engine reads. The table is owned elsewhere.
type UserProfile struct {
	ID                    int64                `json:"id" dynamodbav:"user_id"`
	PreferredLanguage     string               `json:"preferred_language" dynamodbav:"preferred_language"`
	NotificationSettings  NotificationSettings `json:"notification_settings" dynamodbav:"notification_settings"`
	CurrentCropTrackingID *int64               `json:"current_crop_tracking_id,omitempty" dynamodbav:"current_crop_tracking_id,omitempty"`
}

// Language returns the preferred language, defaulting to English.
func (u *UserProfile) Language() string {
	if u.PreferredLanguage == "" {
		return DefaultLanguage
	}
	return u.PreferredLanguage
}

// NotificationSettings mirrors the JSON preferences blob stored per user.
type NotificationSettings struct {
	EmailNotifications bool               `json:"email_notifications" dynamodbav:"email_notifications"`
	PushNotifications  bool               `json:"push_notifications" dynamodbav:"push_notifications"`
	SMSNotifications   bool               `json:"sms_notifications" dynamodbav:"sms_notifications"`
	NotificationTypes  NotificationToggle `json:"notification_types" dynamodbav:"notification_types"`
	NotificationTimes  NotificationTimes  `json:"notification_times" dynamodbav:"notification_times"`
}

type NotificationToggle struct {
	DailyUpdates  bool `json:"daily_updates" dynamodbav:"daily_updates"`
	DiseaseAlerts bool `json:"disease_alerts" dynamodbav:"disease_alerts"`
	WeatherAlerts bool `json:"weather_alerts" dynamodbav:"weather_alerts"`
	MarketUpdates bool `json:"market_updates" dynamodbav:"market_updates"`
	NewsAlerts    bool `json:"news_alerts" dynamodbav:"news_alerts"`
}

type NotificationTimes struct {
	DailyUpdateTime string `json:"daily_update_time" dynamodbav:"daily_update_time"`
	AlertTime       string `json:"alert_time" dynamodbav:"alert_time"`
}

// WantsDailyDigest reports whether the user opted into both push and daily updates.
func (s NotificationSettings) WantsDailyDigest() bool {
	return s.PushNotifications && s.NotificationTypes.DailyUpdates
}

// Caller roles carried in the access token.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)
