// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageProducer is a minimal abstraction over a Kafka client.
// Implementations should enable idempotent production so producer retries
// are deduplicated by the broker.
//
// Requirements:
//   - Idempotent producer ON (enable.idempotence=true)
//   - Use RecordID as the Kafka message key so broker dedup is preserved
//   - Acks=all is recommended
type MessageProducer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
	Close() error
}

// KafkaSink publishes records as Kafka messages (audit log or primary feed).
// Duplicate safety comes from:
//   - Producer retries are deduplicated by the broker when idempotence is enabled
//   - Consumers must track seen RecordIDs and ignore duplicates when the
//     dispatcher retries a partially delivered batch.
//
// This sink does not apply state locally; it delegates materialization to downstream consumers.
type KafkaSink struct {
	producer       MessageProducer
	topic          string
	defaultTimeout time.Duration
}

// DefaultKafkaTopic is the topic used when none is configured.
const DefaultKafkaTopic = "annotation-history"

func NewKafkaSink(p MessageProducer, topic string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	return &KafkaSink{producer: p, topic: topic, defaultTimeout: 10 * time.Second}
}

// Publish sends one message per record, keyed by RecordID.
func (k *KafkaSink) Publish(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	for _, rec := range records {
		if rec.RecordID == "" {
			return errors.New("Record.RecordID must be set")
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal kafka message: %w", err)
		}
		headers := map[string]string{"content-type": "application/json"}
		if err := k.producer.Produce(ctx, k.topic, []byte(rec.RecordID), b, headers); err != nil {
			return fmt.Errorf("kafka produce record=%s event=%s: %w", rec.RecordID, rec.Event, err)
		}
	}
	return nil
}

// Close closes the underlying producer.
func (k *KafkaSink) Close() error { return k.producer.Close() }
