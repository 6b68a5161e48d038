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

// termbus-pingpong measures loopback throughput: it starts an embedded
// driver, wires a publication and a subscription to the same IPC stream,
// then offers payloads and polls them back, reporting rates.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/termbus/termbus"
)

func main() {
	var (
		channel    = flag.String("channel", "termbus:ipc", "channel URI")
		streamID   = flag.Int("stream-id", 117, "stream id")
		messages   = flag.Int("messages", 1_000_000, "number of messages")
		length     = flag.Int("length", 32, "payload length in bytes")
		configPath = flag.String("config", "", "optional config file")
	)
	flag.Parse()

	drv, err := termbus.StartDriver(termbus.DriverOptions{ConfigPath: *configPath})
	if err != nil {
		log.Fatalf("start driver: %v", err)
	}
	defer drv.Close()

	client, err := termbus.Connect(drv)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()

	pubAsync, err := client.AsyncAddPublication(*channel, int32(*streamID))
	if err != nil {
		log.Fatalf("add publication: %v", err)
	}
	subAsync, err := client.AsyncAddSubscription(*channel, int32(*streamID), nil, nil, nil, nil)
	if err != nil {
		log.Fatalf("add subscription: %v", err)
	}

	var pub *termbus.Publication
	for pub == nil {
		if pub, err = pubAsync.Poll(); err != nil {
			log.Fatalf("publication: %v", err)
		}
	}
	var sub *termbus.Subscription
	for sub == nil {
		if sub, err = subAsync.Poll(); err != nil {
			log.Fatalf("subscription: %v", err)
		}
	}
	for !sub.IsConnected() {
		time.Sleep(time.Millisecond)
	}

	fmt.Printf("channel=%s stream=%d messages=%d length=%d term=%d\n",
		*channel, *streamID, *messages, *length, pub.TermBufferLength())

	payload := make([]byte, *length)
	received := 0
	handler := func(p []byte, _ termbus.Header) { received++ }

	start := time.Now()
	for i := 0; i < *messages; i++ {
		for {
			result := pub.Offer(payload)
			if result >= 0 {
				break
			}
			if !termbus.IsRetryableOffer(result) {
				log.Fatalf("offer failed: %d", result)
			}
			// Drain so the flow-control window reopens.
			sub.Poll(handler, 64)
		}
		sub.Poll(handler, 64)
	}
	for received < *messages {
		if sub.Poll(handler, 64) == 0 {
			time.Sleep(10 * time.Microsecond)
		}
	}
	elapsed := time.Since(start)

	rate := float64(*messages) / elapsed.Seconds()
	fmt.Printf("%d messages in %v: %.0f msgs/sec, %.1f MB/sec\n",
		received, elapsed.Round(time.Millisecond), rate,
		rate*float64(*length)/(1024*1024))
}
