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

// Package annotator couples an in-memory annotation document to the history
// engine. The Store holds current annotation state; the command factories in
// this package capture before/after states and bind store mutations into
// reversible commands.
package annotator

import (
	"sort"
	"sync"
	"time"
)

// Point is a 2D image-space coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Annotation is one measurement or marking on an image. The engine never
// sees this type directly; commands carry it as an opaque payload.
type Annotation struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Label     string            `json:"label,omitempty"`
	Points    []Point           `json:"points,omitempty"`
	Style     map[string]string `json:"style,omitempty"`
	ImageID   string            `json:"imageId,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// clone deep-copies the annotation so stored state and captured command
// payloads cannot alias each other's slices or maps.
func (a Annotation) clone() Annotation {
	out := a
	if a.Points != nil {
		out.Points = append([]Point(nil), a.Points...)
	}
	if a.Style != nil {
		out.Style = make(map[string]string, len(a.Style))
		for k, v := range a.Style {
			out.Style[k] = v
		}
	}
	return out
}

// Store manages the current set of annotations in memory.
// It is thread-safe; all reads return defensive copies.
type Store struct {
	mu   sync.RWMutex
	byID map[string]Annotation
}

// NewStore creates an empty annotation store.
func NewStore() *Store {
	return &Store{byID: make(map[string]Annotation)}
}

// Upsert makes the given annotation state current, inserting or replacing.
// It stores exactly what it is given (cloned), so re-applying a captured
// prior state restores it byte for byte, timestamps included.
func (s *Store) Upsert(a Annotation) {
	s.mu.Lock()
	s.byID[a.ID] = a.clone()
	s.mu.Unlock()
}

// Remove deletes the annotation with the given id. Reports whether it existed.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	_, ok := s.byID[id]
	delete(s.byID, id)
	s.mu.Unlock()
	return ok
}

// Get returns a copy of the annotation with the given id.
func (s *Store) Get(id string) (Annotation, bool) {
	s.mu.RLock()
	a, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Annotation{}, false
	}
	return a.clone(), true
}

// Len returns the number of annotations currently present.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// List returns copies of all annotations, ordered by id for determinism.
func (s *Store) List() []Annotation {
	s.mu.RLock()
	out := make([]Annotation, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
