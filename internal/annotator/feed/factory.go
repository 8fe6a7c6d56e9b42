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
)

// BuildSink constructs a Sink based on a string selector.
// Supported sinks:
//   - "logging": in-process logger, prints each record (default)
//   - "none": discard everything
//   - "file": buffered NDJSON appender (requires FilePath)
//   - "redis": Redis Streams appender using a real client when RedisAddr is
//     set; there is no logging fallback because stream ids come from Redis
//   - "kafka": Kafka publisher using a real producer when KafkaBrokers is
//     set, else a logging producer for broker-free runs
//
// The purpose is to let deployments pick a feed backend from config without
// code changes. For anything beyond the demo, supply real addresses.
func BuildSink(kind string, opts SinkOptions) (Sink, error) {
	switch kind {
	case "", "logging":
		return LoggingSink{}, nil
	case "none":
		return NopSink{}, nil
	case "file":
		if opts.FilePath == "" {
			return nil, fmt.Errorf("file sink requires a path")
		}
		return NewFileSink(opts.FilePath, opts.FileFlushEvery)
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis sink requires an address")
		}
		return NewRedisStreamSink(NewGoRedisAppender(opts.RedisAddr), opts.RedisStream, opts.RedisMaxLen), nil
	case "kafka":
		var producer MessageProducer
		if len(opts.KafkaBrokers) > 0 {
			p, err := NewSaramaProducer(opts.KafkaBrokers)
			if err != nil {
				return nil, err
			}
			producer = p
		} else {
			// Fallback to logging producer for dependency-free demo.
			producer = LoggingProducer{}
		}
		return NewKafkaSink(producer, opts.KafkaTopic), nil
	default:
		return nil, fmt.Errorf("unknown feed sink: %s", kind)
	}
}

// NopSink drops every record. It is the default when no feed is configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, []Record) error { return nil }
func (NopSink) Close() error                            { return nil }
