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

/*
Package deadlinequeue is a min-heap of QueueItems ordered by deadline,
used internally by the goal state engine to know when to re-evaluate
an actor or placement group next. Every actor and every placement
group the GCS is tracking has at most one Item resident in the queue
at a time: Enqueue moves it, it never duplicates.

Enqueue schedules a QueueItem for a given deadline (moving it earlier
if it is already scheduled for later); Dequeue blocks until the
earliest-deadline item's time has arrived, or stopChan closes.
*/
package deadlinequeue
