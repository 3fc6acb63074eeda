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
Package goalstate implements the engine that drives every GCS entity
toward its goal state. actor/scheduler.go and placementgroup/scheduler.go
each wrap their respective entity kind in an Entity implementation and
Enqueue it; this package never knows whether it is reconciling an
actor or a placement group.

An enqueued entity is dequeued once its deadline expires, its current
action list is fetched via GetActionList, and each action runs in
order. An action returning an error reschedules the entity with
exponential backoff (bounded by NewEngine's maxRetryDelay) rather than
dropping it; only an explicit Delete removes an entity's state for
good.
*/
package goalstate
