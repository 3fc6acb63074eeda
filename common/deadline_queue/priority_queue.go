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

// QueueItem is the interface an item enqueued into a DeadlineQueue must
// implement. Index/SetIndex back container/heap's housekeeping;
// Deadline/SetDeadline are used by the queue to order and re-schedule
// items.
type QueueItem interface {
	// Index returns the item's current position in the heap, or -1 if
	// it is not currently in the queue.
	Index() int
	// SetIndex is called by the heap implementation to record the
	// item's position.
	SetIndex(i int)
	// Deadline returns the time at which the item should be dequeued,
	// or the zero Time if the item is not scheduled.
	Deadline() time.Time
	// SetDeadline records a new deadline for the item.
	SetDeadline(deadline time.Time)
}

// priorityQueue is a container/heap.Interface ordering QueueItems by
// earliest deadline first.
type priorityQueue []QueueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	return pq[i].Deadline().Before(pq[j].Deadline())
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].SetIndex(i)
	pq[j].SetIndex(j)
}

func (pq *priorityQueue) Push(x interface{}) {
	item := x.(QueueItem)
	item.SetIndex(len(*pq))
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.SetIndex(-1)
	*pq = old[:n-1]
	return item
}

// NextDeadline returns the earliest deadline currently in the queue.
// Callers must hold the queue's lock.
func (pq priorityQueue) NextDeadline() time.Time {
	return pq[0].Deadline()
}
