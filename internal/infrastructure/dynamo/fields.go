package dynamo

// Attribute and index names shared by expressions across repos.
const (
	attrNotificationID = "notification_id"
	attrUserID         = "user_id"
	attrToken          = "token"
	attrTopicName      = "name"
	attrTopicID        = "topic_id"
	attrTrackingID     = "tracking_id"
	attrCropID         = "crop_id"
	attrWeekNumber     = "week_number"
	attrCreatedAt      = "created_at"
	attrPending        = "pending"
	attrDueAt          = "due_at"

	indexUserCreated = "user_id-created_at-index"
	indexPendingDue  = "pending-due_at-index"
	indexTokenUser   = "user_id-index"
	indexTopicID     = "topic_id-index"

	// pendingMarker is the only value of the sparse pending attribute.
	pendingMarker = "P"
)
