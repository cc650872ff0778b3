// Package eventprocessor is the single consumer of notifications. It owns the
// aggregator, so header state is never shared between goroutines.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│  eventstream (ring buffer order)        │
//	└─────────────────┬───────────────────────┘
//	                  │ message.Notification
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   eventprocessor.Processor              │
//	│   - one goroutine                       │
//	│   - logs rejected headers               │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ aggregator.Handle ──→ HeaderSet / LoginPayload
//	          │
//	          └──→ first CaptureResult
//	                 - completion callback (terminate, detach)
//	                 - Done() closed exactly once
//
// Notifications arriving after completion are not read; the stream is stopped
// by whoever waits on Done.
package eventprocessor
