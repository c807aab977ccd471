package pubsub

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/angelmondragon/carline-backend/pkg/config"
	"github.com/angelmondragon/carline-backend/pkg/instance"
	"github.com/angelmondragon/carline-backend/pkg/logger"
)

const (
	ackDeadlineSeconds = 20
	// Pub/Sub rejects expiration policies shorter than a day.
	minSubscriptionTTL = 24 * time.Hour
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopic           = errors.New("pubsub broadcast topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")

	invalidSubChars = regexp.MustCompile(`[^A-Za-z0-9._~+%-]+`)
)

// admin is the slice of the Pub/Sub admin API used at startup.
type admin interface {
	GetTopic(ctx context.Context, name string) error
	GetSubscription(ctx context.Context, name string) error
	CreateSubscription(ctx context.Context, sub *pubsubpb.Subscription) error
}

// Client holds the Pub/Sub handles used as the hub backplane. Every API
// instance reads the broadcast topic through its own subscription so each
// one sees every update.
type Client struct {
	client       *pubsub.Client
	admin        admin
	projectID    string
	topic        string
	subscription string
	ttl          time.Duration
	logg         *logger.Logger
}

// NewClient creates a Pub/Sub v2 client, checks the broadcast topic and
// creates this instance's subscription when it does not exist yet.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	c, err := newUnconnected(gcp, cfg, logg)
	if err != nil {
		return nil, err
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c.client = psClient
	c.admin = gcpAdmin{client: psClient}

	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	return c, nil
}

func newUnconnected(gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	topic := strings.TrimSpace(cfg.BroadcastTopic)
	if topic == "" {
		return nil, errNoTopic
	}
	sub := strings.TrimSpace(cfg.BroadcastSubscription)
	if sub == "" {
		sub = instanceSubscription(topic, instance.GetID())
	}
	ttl := cfg.SubscriptionTTL
	if ttl < minSubscriptionTTL {
		ttl = minSubscriptionTTL
	}
	return &Client{
		projectID:    project,
		topic:        topic,
		subscription: sub,
		ttl:          ttl,
		logg:         logg,
	}, nil
}

// instanceSubscription derives a valid subscription ID from the topic and
// the instance id.
func instanceSubscription(topic, instanceID string) string {
	id := invalidSubChars.ReplaceAllString(instanceID, "-")
	id = strings.Trim(id, "-")
	if id == "" {
		id = "local"
	}
	name := topic + "-" + id
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}

// Ping checks the broadcast topic and makes sure this instance's
// subscription is attached to it.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.admin == nil {
		return errNotInitialized
	}
	topic := c.topicResourceName(c.topic)
	if err := c.admin.GetTopic(ctx, topic); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", c.topic)
		}
		return fmt.Errorf("checking topic %q: %w", c.topic, err)
	}
	return c.ensureSubscription(ctx, topic)
}

func (c *Client) ensureSubscription(ctx context.Context, topic string) error {
	name := c.subscriptionResourceName(c.subscription)
	err := c.admin.GetSubscription(ctx, name)
	if err == nil {
		return nil
	}
	if status.Code(err) != codes.NotFound {
		return fmt.Errorf("checking subscription %q: %w", c.subscription, err)
	}

	err = c.admin.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:               name,
		Topic:              topic,
		AckDeadlineSeconds: ackDeadlineSeconds,
		ExpirationPolicy:   &pubsubpb.ExpirationPolicy{Ttl: durationpb.New(c.ttl)},
	})
	// Another process with the same instance id may have won the race.
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("creating subscription %q: %w", c.subscription, err)
	}
	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "subscription", c.subscription), "pubsub subscription created")
	}
	return nil
}

// SubscriptionName is the subscription ID this instance reads from.
func (c *Client) SubscriptionName() string {
	if c == nil {
		return ""
	}
	return c.subscription
}

// Subscription returns a v2 Subscriber handle for the subscription name (ID or full resource name).
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.subscriptionResourceName(name)
	if fullName == "" {
		return nil
	}
	return c.client.Subscriber(fullName)
}

// BroadcastSubscription returns this instance's subscription on the broadcast topic.
func (c *Client) BroadcastSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.Subscription(c.subscription)
}

// Publisher returns a publisher handle for the given topic ID/resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return nil
	}
	return c.client.Publisher(fullName)
}

// BroadcastPublisher returns the publisher for car status updates.
func (c *Client) BroadcastPublisher() *pubsub.Publisher {
	if c == nil {
		return nil
	}
	return c.Publisher(c.topic)
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) subscriptionResourceName(name string) string {
	return resourceName(c, name, "subscriptions")
}

func (c *Client) topicResourceName(name string) string {
	return resourceName(c, name, "topics")
}

func resourceName(c *Client, name, kind string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}

type gcpAdmin struct {
	client *pubsub.Client
}

func (a gcpAdmin) GetTopic(ctx context.Context, name string) error {
	_, err := a.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	return err
}

func (a gcpAdmin) GetSubscription(ctx context.Context, name string) error {
	_, err := a.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
	return err
}

func (a gcpAdmin) CreateSubscription(ctx context.Context, sub *pubsubpb.Subscription) error {
	_, err := a.client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	return err
}
