package fcm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/farmacy-notify/internal/domain"
)

// Keys lifted out of the data map into dedicated message fields.
const (
	dataKeyImageURL = "image_url"
	dataKeySound    = "sound"
)

// shaped is a PushMessage after provider-specific normalisation.
type shaped struct {
	title    string
	body     string
	data     map[string]string
	imageURL string
	sound    string
	channel  string
	elevated bool
}

func (c *Client) shape(msg domain.PushMessage) shaped {
	data, image, sound := stringifyData(msg.Data)
	if msg.ImageURL != "" {
		image = msg.ImageURL
	}
	if msg.Sound != "" {
		sound = msg.Sound
	}
	if sound == "" {
		sound = c.defaultSound
	}
	channel := msg.ChannelID
	if channel == "" {
		channel = c.defaultChannel
	}
	return shaped{
		title:    msg.Title,
		body:     msg.Body,
		data:     data,
		imageURL: image,
		sound:    sound,
		channel:  channel,
		elevated: msg.Priority == "" || msg.Priority.Elevated(),
	}
}

// stringifyData coerces every value to a string, drops nils, and pulls out
// image_url and sound so they never reach the client's custom data.
func stringifyData(in map[string]any) (data map[string]string, imageURL, sound string) {
	data = make(map[string]string, len(in))
	for k, v := range in {
		if v == nil {
			continue
		}
		s := stringify(v)
		switch k {
		case dataKeyImageURL:
			imageURL = s
		case dataKeySound:
			sound = s
		default:
			data[k] = s
		}
	}
	return data, imageURL, sound
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", t)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func (s shaped) notification() *messaging.Notification {
	return &messaging.Notification{Title: s.title, Body: s.body, ImageURL: s.imageURL}
}

func (s shaped) android() *messaging.AndroidConfig {
	priority := "normal"
	if s.elevated {
		priority = "high"
	}
	return &messaging.AndroidConfig{
		Priority: priority,
		Notification: &messaging.AndroidNotification{
			Sound:     s.sound,
			ImageURL:  s.imageURL,
			ChannelID: s.channel,
		},
	}
}

func (s shaped) apns() *messaging.APNSConfig {
	priority := "5"
	if s.elevated {
		priority = "10"
	}
	return &messaging.APNSConfig{
		Headers: map[string]string{"apns-priority": priority},
		Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: s.sound}},
	}
}

func (s shaped) message() *messaging.Message {
	return &messaging.Message{
		Notification: s.notification(),
		Data:         s.data,
		Android:      s.android(),
		APNS:         s.apns(),
	}
}

func (s shaped) multicast(tokens []string) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens:       tokens,
		Notification: s.notification(),
		Data:         s.data,
		Android:      s.android(),
		APNS:         s.apns(),
	}
}

// anyOfTopics builds a provider condition matching devices subscribed to any topic.
func anyOfTopics(topics []string) string {
	parts := make([]string, len(topics))
	for i, t := range topics {
		parts[i] = fmt.Sprintf("'%s' in topics", t)
	}
	return strings.Join(parts, " || ")
}
