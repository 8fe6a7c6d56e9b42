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
)

// StreamAppender abstracts the minimal surface we need from a Redis client.
// Implementations may wrap github.com/redis/go-redis/v9 (Cmdable.XAdd) or any equivalent.
type StreamAppender interface {
	XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error)
	Close() error
}

// RedisStreamSink appends records to a Redis Stream, one XADD per record:
// 1) Marshal the record to JSON
// 2) XADD <stream> MAXLEN ~ <maxLen> * record <json> id <record_id>
// The record id rides alongside the payload so consumers can dedup retried
// batches without parsing the JSON body.
type RedisStreamSink struct {
	client StreamAppender
	stream string
	maxLen int64
}

// NewRedisStreamSink returns a sink appending to the given stream.
// maxLen caps the stream length (approximate trim) to guard against unbounded
// growth when no consumer is attached; set 0 to disable trimming.
func NewRedisStreamSink(client StreamAppender, stream string, maxLen int64) *RedisStreamSink {
	if stream == "" {
		stream = DefaultRedisStream
	}
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

// DefaultRedisStream is the stream name used when none is configured.
const DefaultRedisStream = "annotation-history"

// Publish appends each record in order. Stream entries inherit Redis's
// per-stream ordering, so a consumer reading the stream sees events in
// publish order.
func (r *RedisStreamSink) Publish(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, rec := range records {
		if rec.RecordID == "" {
			return errors.New("Record.RecordID must be set")
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal stream record: %w", err)
		}
		values := map[string]interface{}{"record": string(b), "id": rec.RecordID}
		if _, err := r.client.XAdd(ctx, r.stream, r.maxLen, values); err != nil {
			return fmt.Errorf("redis xadd stream=%s record=%s: %w", r.stream, rec.RecordID, err)
		}
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisStreamSink) Close() error { return r.client.Close() }
