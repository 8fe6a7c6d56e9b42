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

package cmdhist

import "errors"

// Sentinel errors returned by Engine operations. Match with errors.Is.
// Failures coming from a command's own Execute are wrapped separately and
// carry the command id and type.
var (
	// ErrEmptyBatch is returned by ExecuteBatch when no commands are given.
	ErrEmptyBatch = errors.New("cmdhist: batch contains no commands")

	// ErrBatchTooLarge is returned by ExecuteBatch when the command count
	// exceeds Options.MaxBatchSize. It is never silently truncated.
	ErrBatchTooLarge = errors.New("cmdhist: batch exceeds max batch size")

	// ErrInvalidConfig is returned by New and UpdateConfig when an option
	// fails validation.
	ErrInvalidConfig = errors.New("cmdhist: invalid configuration")
)
