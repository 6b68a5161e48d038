/*
 * Copyright 2026 The Termbus Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package termbus is a low-latency in-process pub/sub messaging transport
// built on term-structured shared log buffers.
//
// A Driver is the embedded transport agent owning stream registration; a
// Client attaches to a driver and adds resources asynchronously:
//
//	drv, _ := termbus.StartDriver(termbus.DriverOptions{})
//	defer drv.Close()
//	client, _ := termbus.Connect(drv)
//	defer client.Close()
//
//	async, _ := client.AsyncAddPublication("termbus:ipc", 117)
//	var pub *termbus.Publication
//	for pub == nil {
//		p, err := async.Poll()
//		if err != nil { ... }
//		pub = p
//	}
//
// Every add returns an async handle immediately; the handle resolves in the
// background and is consumed by the terminal Poll result. Publications offer
// payloads without blocking: a non-negative result is the new stream
// position, negative results are the sentinels NotConnected, BackPressured,
// AdminAction, PublicationClosed, MaxPositionExceeded and MessageTooLarge,
// of which BackPressured and AdminAction are transient and retryable.
// Subscriptions poll fragments from the images of connected publishers.
package termbus
