package fcm

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/farmacy-notify/internal/config"
	"github.com/farmacy-notify/internal/domain"
	"github.com/farmacy-notify/internal/pkg/breaker"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

// topicBatch is the provider's limit for topic (un)subscribe calls.
const topicBatch = 1000

// messagingClient is the subset of *messaging.Client the delivery client uses.
type messagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

// Client is the push delivery client. Every provider call goes through a
// rate limiter, a circuit breaker and a per-call timeout.
type Client struct {
	mc             messagingClient
	cb             *gobreaker.CircuitBreaker
	limiter        *rate.Limiter
	batchSize      int
	timeout        time.Duration
	defaultSound   string
	defaultChannel string
	log            logrus.FieldLogger
}

// NewMessaging initialises the Firebase app from a service-account file.
func NewMessaging(ctx context.Context, credentialsFile string) (*messaging.Client, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	mc, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}
	return mc, nil
}

func New(mc messagingClient, cfg config.FCMConfig, log logrus.FieldLogger) *Client {
	batch := cfg.MulticastBatch
	if batch <= 0 || batch > 500 {
		batch = 500
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		mc:             mc,
		cb:             breaker.New("fcm", providerHealthy),
		limiter:        rate.NewLimiter(limit, burst),
		batchSize:      batch,
		timeout:        cfg.SendTimeout,
		defaultSound:   cfg.DefaultSound,
		defaultChannel: cfg.DefaultChannel,
		log:            log.WithField("component", "fcm"),
	}
}

// call runs fn under the limiter, breaker and timeout.
func (c *Client) call(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.cb.Execute(func() (interface{}, error) { return fn(ctx) })
}

// SendToToken delivers one message to one device. Failures come back as *domain.DeliveryError;
// callers must drop the token when domain.IsInvalidToken reports true.
func (c *Client) SendToToken(ctx context.Context, token string, msg domain.PushMessage) error {
	if token == "" {
		return domain.NewDeliveryError(domain.DeliveryNoToken, "", nil)
	}
	m := c.shape(msg).message()
	m.Token = token
	_, err := c.call(ctx, func(ctx context.Context) (interface{}, error) {
		return c.mc.Send(ctx, m)
	})
	return classify(token, err)
}

// SendMulticast fans one message out to tokens in provider-sized batches.
// A failed batch is counted as failures and never aborts the remaining batches.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, msg domain.PushMessage) domain.MulticastResult {
	var res domain.MulticastResult
	if len(tokens) == 0 {
		return res
	}
	s := c.shape(msg)
	for start := 0; start < len(tokens); start += c.batchSize {
		end := min(start+c.batchSize, len(tokens))
		chunk := tokens[start:end]
		out, err := c.call(ctx, func(ctx context.Context) (interface{}, error) {
			return c.mc.SendEachForMulticast(ctx, s.multicast(chunk))
		})
		if err != nil {
			res.FailureCount += len(chunk)
			c.log.WithError(err).WithField("batch_size", len(chunk)).Warn("multicast batch failed")
			continue
		}
		br := out.(*messaging.BatchResponse)
		res.SuccessCount += br.SuccessCount
		res.FailureCount += br.FailureCount
		for i, r := range br.Responses {
			if i < len(chunk) && !r.Success && kindOf(r.Error) == domain.DeliveryInvalidToken {
				res.InvalidTokens = append(res.InvalidTokens, chunk[i])
			}
		}
	}
	return res
}

// SendToTopic publishes one message to every device subscribed to topic.
func (c *Client) SendToTopic(ctx context.Context, topic string, msg domain.PushMessage) error {
	m := c.shape(msg).message()
	m.Topic = topic
	_, err := c.call(ctx, func(ctx context.Context) (interface{}, error) {
		return c.mc.Send(ctx, m)
	})
	return classify("", err)
}

// SendToAnyOfTopics sends once to devices subscribed to at least one of topics.
func (c *Client) SendToAnyOfTopics(ctx context.Context, topics []string, msg domain.PushMessage) error {
	if len(topics) == 0 {
		return fmt.Errorf("no topics: %w", domain.ErrValidation)
	}
	if len(topics) == 1 {
		return c.SendToTopic(ctx, topics[0], msg)
	}
	m := c.shape(msg).message()
	m.Condition = anyOfTopics(topics)
	_, err := c.call(ctx, func(ctx context.Context) (interface{}, error) {
		return c.mc.Send(ctx, m)
	})
	return classify("", err)
}

// SubscribeToTopic registers tokens with topic on the provider and returns how many succeeded.
func (c *Client) SubscribeToTopic(ctx context.Context, tokens []string, topic string) (int, error) {
	return c.manageTopic(ctx, tokens, topic, c.mc.SubscribeToTopic)
}

// UnsubscribeFromTopic removes tokens from topic on the provider and returns how many succeeded.
func (c *Client) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (int, error) {
	return c.manageTopic(ctx, tokens, topic, c.mc.UnsubscribeFromTopic)
}

type topicFunc func(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)

func (c *Client) manageTopic(ctx context.Context, tokens []string, topic string, fn topicFunc) (int, error) {
	success := 0
	var lastErr error
	for start := 0; start < len(tokens); start += topicBatch {
		end := min(start+topicBatch, len(tokens))
		chunk := tokens[start:end]
		out, err := c.call(ctx, func(ctx context.Context) (interface{}, error) {
			return fn(ctx, chunk, topic)
		})
		if err != nil {
			lastErr = classify("", err)
			c.log.WithError(err).WithField("topic", topic).Warn("topic membership batch failed")
			continue
		}
		resp := out.(*messaging.TopicManagementResponse)
		success += resp.SuccessCount
		for _, e := range resp.Errors {
			c.log.WithFields(logrus.Fields{"topic": topic, "reason": e.Reason}).Debug("token rejected by topic call")
		}
	}
	if success == 0 && lastErr != nil {
		return 0, lastErr
	}
	return success, nil
}
