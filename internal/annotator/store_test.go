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

package annotator

import (
	"testing"
	"time"
)

func sample(id string) Annotation {
	return Annotation{
		ID:        id,
		Kind:      "length",
		Label:     "femur",
		Points:    []Point{{X: 1, Y: 2}, {X: 3, Y: 4}},
		Style:     map[string]string{"color": "yellow"},
		ImageID:   "img-1",
		UpdatedAt: time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStore_UpsertGetRemove(t *testing.T) {
	s := NewStore()
	a := sample("ann-1")
	s.Upsert(a)

	got, ok := s.Get("ann-1")
	if !ok {
		t.Fatalf("expected annotation to exist")
	}
	if got.Label != "femur" || len(got.Points) != 2 || got.Style["color"] != "yellow" {
		t.Fatalf("unexpected stored state: %+v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("expected len 1, got %d", s.Len())
	}

	if !s.Remove("ann-1") {
		t.Fatalf("expected remove to report existence")
	}
	if s.Remove("ann-1") {
		t.Fatalf("expected second remove to report absence")
	}
	if _, ok := s.Get("ann-1"); ok {
		t.Fatalf("expected annotation to be gone")
	}
}

func TestStore_CopiesDoNotAlias(t *testing.T) {
	s := NewStore()
	a := sample("ann-1")
	s.Upsert(a)

	// Mutating the caller's value after Upsert must not affect the store.
	a.Points[0].X = 99
	a.Style["color"] = "red"
	got, _ := s.Get("ann-1")
	if got.Points[0].X != 1 || got.Style["color"] != "yellow" {
		t.Fatalf("store aliased caller state: %+v", got)
	}

	// Mutating a Get result must not affect the store either.
	got.Points[1].Y = -5
	got.Style["color"] = "green"
	again, _ := s.Get("ann-1")
	if again.Points[1].Y != 4 || again.Style["color"] != "yellow" {
		t.Fatalf("store aliased read copy: %+v", again)
	}
}

func TestStore_ListSortedByID(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"c", "a", "b"} {
		s.Upsert(Annotation{ID: id})
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 annotations, got %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID != want {
			t.Fatalf("expected position %d to be %q, got %q", i, want, list[i].ID)
		}
	}
}
