package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/farmacy-notify/internal/domain"
	"github.com/go-playground/validator/v10"
)

// MaxTopicNameLen matches the width of the notification_topics.name column.
const MaxTopicNameLen = 50

var topicNameRe = regexp.MustCompile(`^[a-zA-Z0-9\-_.~%]+$`)

// v is the package-level singleton validator. It is initialised once at
// package load time. Custom tags are registered in init before first use.
var v = validator.New()

func init() {
	_ = v.RegisterValidation("topicname", func(fl validator.FieldLevel) bool {
		return TopicName(fl.Field().String())
	})
	_ = v.RegisterValidation("notiftype", func(fl validator.FieldLevel) bool {
		t := domain.NotificationType(fl.Field().String())
		for _, known := range domain.NotificationTypes {
			if t == known {
				return true
			}
		}
		return false
	})
	_ = v.RegisterValidation("notifpriority", func(fl validator.FieldLevel) bool {
		p := domain.Priority(fl.Field().String())
		for _, known := range domain.Priorities {
			if p == known {
				return true
			}
		}
		return false
	})
}

// TopicName reports whether name is an acceptable provider topic name.
func TopicName(name string) bool {
	return name != "" && len(name) <= MaxTopicNameLen && topicNameRe.MatchString(name)
}

// Struct validates the given struct using its validate tags.
// Returns a human-readable error wrapping domain.ErrValidation, or nil.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("%v: %w", err, domain.ErrValidation)
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), domain.ErrValidation)
	}
	return nil
}
