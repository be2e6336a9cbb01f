//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaContainer runs a Redpanda broker that receives gate audit records.
type KafkaContainer struct {
	Container testcontainers.Container
	Brokers   string
}

func NewKafkaContainer(t *testing.T) *KafkaContainer {
	t.Helper()

	ctx := context.Background()
	container, err := kafka.Run(ctx,
		"redpandadata/redpanda:latest",
		kafka.WithClusterID("profilegate-test"),
	)
	if err != nil {
		t.Fatalf("start kafka container: %v", err)
	}

	brokers, err := container.Brokers(ctx)
	if err != nil || len(brokers) == 0 {
		_ = container.Terminate(ctx)
		t.Fatalf("kafka brokers unavailable: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(ctx)
	})

	return &KafkaContainer{Container: container, Brokers: brokers[0]}
}

// AuditTopic creates a single-partition topic and returns a reader
// positioned at its start. The reader is closed with the test.
func (k *KafkaContainer) AuditTopic(ctx context.Context, t *testing.T, topic string) *AuditReader {
	t.Helper()

	admin, err := kgo.NewClient(kgo.SeedBrokers(k.Brokers))
	if err != nil {
		t.Fatalf("kafka admin client: %v", err)
	}
	defer admin.Close()

	resp, err := kadm.NewClient(admin).CreateTopic(ctx, 1, 1, nil, topic)
	if err != nil {
		t.Fatalf("create topic %s: %v", topic, err)
	}
	if resp.Err != nil {
		t.Fatalf("create topic %s: %v", topic, resp.Err)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.Brokers),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		t.Fatalf("kafka reader: %v", err)
	}
	t.Cleanup(client.Close)

	return &AuditReader{client: client}
}

// AuditReader reads audit records, which the gate keys by device id.
type AuditReader struct {
	client *kgo.Client
}

// NextForDevice returns the first record keyed by deviceID, or an error
// once timeout passes.
func (r *AuditReader) NextForDevice(ctx context.Context, deviceID string, timeout time.Duration) (*kgo.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		fetches := r.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("no audit record for device %s within %s", deviceID, timeout)
		}
		if fetches.IsClientClosed() {
			return nil, fmt.Errorf("audit reader closed")
		}

		var found *kgo.Record
		fetches.EachRecord(func(rec *kgo.Record) {
			if found == nil && string(rec.Key) == deviceID {
				found = rec
			}
		})
		if found != nil {
			return found, nil
		}
	}
}
