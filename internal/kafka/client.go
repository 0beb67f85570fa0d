package kafka

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// SASLConfig carries optional SCRAM credentials for the bus.
type SASLConfig struct {
	Username  string
	Password  string
	Mechanism string
}

// Enabled reports whether SASL authentication should be configured.
func (c SASLConfig) Enabled() bool {
	return c.Username != ""
}

func (c SASLConfig) opt() (kgo.Opt, error) {
	auth := scram.Auth{User: c.Username, Pass: c.Password}
	switch c.Mechanism {
	case "", "SCRAM-SHA-256":
		return kgo.SASL(auth.AsSha256Mechanism()), nil
	case "SCRAM-SHA-512":
		return kgo.SASL(auth.AsSha512Mechanism()), nil
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism: %s", c.Mechanism)
	}
}

// ConsumerOpts assembles the kgo options for one consumption worker. Offsets
// are committed manually after entries have been handed to the queue, so
// auto-commit is disabled.
func ConsumerOpts(brokers []string, group string, topics []string, sasl SASLConfig) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.ClientID("logsift"),
	}
	if sasl.Enabled() {
		saslOpt, err := sasl.opt()
		if err != nil {
			return nil, err
		}
		opts = append(opts, saslOpt)
	}
	return opts, nil
}

// Consumer is the record source one pipeline worker polls. Satisfied by
// *ConsumerClient; tests substitute fakes.
type Consumer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommitted(ctx context.Context) error
	Close()
}

// ConsumerClient wraps a franz-go client configured for group consumption.
type ConsumerClient struct {
	client *kgo.Client
}

// NewConsumerClient connects one consumption worker to the bus.
func NewConsumerClient(opts ...kgo.Opt) (*ConsumerClient, error) {
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &ConsumerClient{client: client}, nil
}

func (c *ConsumerClient) PollFetches(ctx context.Context) kgo.Fetches {
	return c.client.PollFetches(ctx)
}

// CommitUncommitted acknowledges every record handed out by previous polls.
func (c *ConsumerClient) CommitUncommitted(ctx context.Context) error {
	return c.client.CommitUncommittedOffsets(ctx)
}

func (c *ConsumerClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// AdminClient lists bus topics for tenant resolution.
type AdminClient struct {
	client *kgo.Client
	admin  *kadm.Client
}

func NewAdminClient(brokers []string, sasl SASLConfig) (*AdminClient, error) {
	opts := []kgo.Opt{kgo.SeedBrokers(brokers...), kgo.ClientID("logsift")}
	if sasl.Enabled() {
		saslOpt, err := sasl.opt()
		if err != nil {
			return nil, err
		}
		opts = append(opts, saslOpt)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka admin client: %w", err)
	}
	return &AdminClient{client: client, admin: kadm.NewClient(client)}, nil
}

// ListTopics returns every topic name known to the broker.
func (a *AdminClient) ListTopics(ctx context.Context) ([]string, error) {
	details, err := a.admin.ListTopics(ctx)
	if err != nil {
		return nil, err
	}

	topics := make([]string, 0, len(details))
	for _, td := range details {
		topics = append(topics, td.Topic)
	}
	return topics, nil
}

func (a *AdminClient) Close() {
	if a.client != nil {
		a.client.Close()
	}
}
