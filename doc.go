// Package collector turns webhook payloads into Prometheus metrics.
//
// An incoming event is identified by the last segment of the request
// path. The collector matches the event name against an ordered list of
// configured handler rules, runs each matched rule's extractor chains
// over the JSON payload, and upserts a typed metric (gauge, counter, or
// info) into a bounded, expiring metric table backed by a dedicated
// Prometheus registry.
//
// # Architecture
//
//	┌──────────────┐   ┌──────────────┐
//	│ HTTP gateway │   │  NATS input  │   event name + JSON document
//	└──────┬───────┘   └──────┬───────┘
//	       └───────┬──────────┘
//	        ┌──────▼───────┐
//	        │    engine    │   match rule → extract fields → upsert
//	        └──────┬───────┘
//	   ┌───────────┼────────────┐
//	   │           │            │
//	┌──▼───┐  ┌────▼─────┐  ┌───▼──────┐
//	│cache │  │ registry │  │ listeners│   textfile writer, dashboard
//	└──────┘  └──────────┘  └──────────┘
//
// The metric table and the registry mutate together: a cache entry is
// never removed (deleted, evicted, or expired) without its collector
// being unregistered in the same critical section, so the exposition
// endpoint always reflects exactly the live entries.
//
// Package layout:
//
//   - extract: the chained extractor evaluator (JSONPath + regex stages)
//   - rule: configured event handlers, matching, and field resolution
//   - metric: typed instances and the keyed Prometheus registry
//   - engine: the lifecycle orchestrator over the bounded cache
//   - gateway: HTTP transport (webhooks, /metrics, health, index)
//   - input/natsinput: optional NATS event source
//   - output/textfile: node_exporter textfile-collector output
//   - dashboard: optional websocket debug surface
//   - pkg/cache: the generic TTL+LRU cache
package collector
