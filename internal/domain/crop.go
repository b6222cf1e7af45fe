package domain

const DefaultLanguage = "en"

// CropTracking is a user's active crop selection.
type CropTracking struct {
	ID          int64 `json:"id" dynamodbav:"tracking_id"`
	UserID      int64 `json:"user_id" dynamodbav:"user_id"`
	CropID      int64 `json:"crop_id" dynamodbav:"crop_id"`
	CurrentWeek int   `json:"current_week" dynamodbav:"current_week"`
}

// WeekContent is the localized content for one crop week.
type WeekContent struct {
	CropID      int64
	WeekNumber  int
	Language    string
	WeekTitle   string
	CropName    string
	CropVariety string
	ImageURLs   []string
}

// FirstImage returns the first week image or an empty string.
func (w *WeekContent) FirstImage() string {
	if len(w.ImageURLs) == 0 {
		return ""
	}
	return w.ImageURLs[0]
}
