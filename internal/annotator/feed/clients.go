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
	"fmt"
	"time"

	"github.com/IBM/sarama"
	redis "github.com/redis/go-redis/v9"
)

// LoggingSink is a tiny demo sink that just logs each record.
// It lets the demo select a feed without needing a real backend.
// Not for production use.

type LoggingSink struct{}

func (LoggingSink) Publish(ctx context.Context, records []Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	for _, r := range records {
		fmt.Printf("[feed-demo] EVENT=%s CMD=%s TYPE=%s DESC=%s UNDO=%d REDO=%d\n",
			r.Event, r.CommandID, r.CommandType, truncate(r.Description, 64), r.UndoCount, r.RedoCount)
	}
	return nil
}

func (LoggingSink) Close() error { return nil }

// GoRedisAppender is a production-ready Redis client wrapper implementing StreamAppender.
// It uses github.com/redis/go-redis/v9 under the hood.
// Use NewGoRedisAppender to construct it with an address like "127.0.0.1:6379".

type GoRedisAppender struct{ c *redis.Client }

func NewGoRedisAppender(addr string) *GoRedisAppender {
	opt := &redis.Options{Addr: addr}
	return &GoRedisAppender{c: redis.NewClient(opt)}
}

func (g *GoRedisAppender) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return g.c.XAdd(ctx, args).Result()
}

func (g *GoRedisAppender) Close() error { return g.c.Close() }

// SaramaProducer wraps an IBM/sarama synchronous producer implementing
// MessageProducer. Use NewSaramaProducer to construct it from a broker list;
// it enables idempotent production with acks=all so broker-side retries
// cannot duplicate a record.

type SaramaProducer struct{ p sarama.SyncProducer }

func NewSaramaProducer(brokers []string) (*SaramaProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("sarama producer: %w", err)
	}
	return &SaramaProducer{p: p}, nil
}

func (s *SaramaProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	_, _, err := s.p.SendMessage(msg)
	return err
}

func (s *SaramaProducer) Close() error { return s.p.Close() }

// LoggingProducer is a tiny demo producer that logs the produced message.
// It enables selecting the Kafka sink without a real broker.
// Not for production use.

type LoggingProducer struct{}

func (LoggingProducer) Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if headers == nil {
		headers = map[string]string{}
	}
	fmt.Printf("[kafka-demo] TOPIC=%s KEY=%s VALUE=%s HEADERS=%v\n", topic, string(key), truncate(string(value), 256), headers)
	return nil
}

func (LoggingProducer) Close() error { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// SinkOptions holds minimal knobs for building sinks.

type SinkOptions struct {
	RedisAddr      string
	RedisStream    string
	RedisMaxLen    int64
	KafkaBrokers   []string
	KafkaTopic     string
	FilePath       string
	FileFlushEvery time.Duration
}
