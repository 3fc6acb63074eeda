// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package deadlinequeue

import "time"

// Item is a general-purpose QueueItem implementation identifying the
// scheduled entity by name (e.g. an actor or placement-group id
// string). Callers needing to carry richer payloads can implement
// QueueItem directly instead of using Item.
type Item struct {
	name     string
	index    int
	deadline time.Time
}

// NewItem creates an unscheduled Item for the given name.
func NewItem(name string) *Item {
	return &Item{name: name, index: -1}
}

// GetString returns the identifying name the item was created with.
func (i *Item) GetString() string { return i.name }

func (i *Item) Index() int              { return i.index }
func (i *Item) SetIndex(v int)          { i.index = v }
func (i *Item) Deadline() time.Time     { return i.deadline }
func (i *Item) SetDeadline(d time.Time) { i.deadline = d }

// IsScheduled reports whether the item currently has a non-zero
// deadline (i.e. it is waiting in the queue to be dequeued).
func (i *Item) IsScheduled() bool { return !i.deadline.IsZero() }
