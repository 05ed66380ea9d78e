/*
Package topicbus provides an in-process publish/subscribe event bus with
hierarchical topic matching, at-least-once delivery, and backpressure.

# Overview

topicbus connects publishers to subscribers through dot-segmented topic
strings ("order.created") and wildcard patterns ("order.*", "order.#").
Failed deliveries are retried per a configurable backoff policy and
dead-lettered when the retry budget is exhausted, so a handler failure is
never silently lost. A bounded admission queue applies flow control when
producers outpace consumers, with a choice of blocking, rejecting, or
evicting the oldest queued event.

The bus is in-process only. There is no network transport; the optional
cluster coordination hook is best-effort leadership for scheduled
publishes, not consensus.

# Basic Usage

Construct a bus, subscribe with a pattern, publish to a topic:

	bus := topicbus.New()
	defer bus.Close(context.Background())

	id, err := bus.Subscribe("order.*", func(ctx context.Context, evt topicbus.Event) error {
	    fmt.Println("received", evt.Topic, evt.Payload)
	    return nil
	})
	if err != nil {
	    log.Fatal(err)
	}
	defer bus.Unsubscribe(id)

	bus.Publish(context.Background(), "order.created", order)

Publish is asynchronous: delivery happens on a per-topic worker fed by
the admission queue. PublishSync delivers inline on the caller's
goroutine. Events for one topic reach each subscriber in publish order;
nothing is guaranteed across topics or across subscribers.

# Reliability

Handlers signal failure by returning an error (panics are recovered and
treated the same way). The retry policy for the event's topic decides
whether and when to re-attempt; each subscriber has an independent retry
trajectory:

	bus.SetRetryPolicy("order.created", retry.Exponential(5, 100*time.Millisecond, 30*time.Second))

When retries are exhausted, the event is recorded in the dead-letter
sink and error hooks fire. Drain or redrive the records later:

	recs, _ := bus.DrainDeadLetters(ctx, deadletter.DefaultQueue)

# Backpressure

The admission queue is bounded. At the limit, the overflow policy
decides what happens to the publisher:

	bus.ApplyBackpressure(1024, topicbus.OverflowDropOldest)

OverflowBlock parks the publisher until space frees (bounded by its
context), OverflowReject returns ErrQueueFull, and OverflowDropOldest
silently evicts the oldest queued event bus-wide.

# Design Influences

  - RabbitMQ topic exchanges (the "*" / "#" pattern grammar)
  - AWS EventBridge (dead letter queues, redrive)
  - Reactive Streams (bounded-queue backpressure signalling)
  - Temporal (schedule entries with lifecycle statuses)
*/
package topicbus
