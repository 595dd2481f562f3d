// Package unifiednamespace bridges an MQTT-based Unified Namespace into
// queryable stores and plain JSON topics.
//
// # Architecture
//
// One pipeline subscribes to two topic namespaces on the same broker and
// fans messages out to sinks:
//
//	┌─────────────────────────────────────┐
//	│          MQTT Broker                │  spBv1.0/# and UNS topics
//	└─────────────────────────────────────┘
//	           ↓ subscribe
//	┌─────────────────────────────────────┐
//	│          Pipeline                   │  decode, route, retry
//	│        (service package)            │
//	└─────────────────────────────────────┘
//	     ↓              ↓             ↓
//	┌─────────┐   ┌───────────┐  ┌─────────────┐
//	│  Neo4j  │   │ Timescale │  │ Republisher │
//	│  graph  │   │ historian │  │ (back to    │
//	│         │   │           │  │  broker)    │
//	└─────────┘   └───────────┘  └─────────────┘
//
// Plain JSON messages on UNS topics are merged into a Neo4j hierarchy by the
// uns package and appended to a TimescaleDB hypertable by the historian
// package. Sparkplug B messages are decoded by the sparkplug package and
// mirrored as plain JSON onto UNS topics by the republisher package, where
// they re-enter the pipeline like any other UNS traffic.
//
// # Package layout
//
//   - sparkplug: Sparkplug B payload codec, session sequencing, topic parsing
//   - uns: topic-to-graph transformation of namespace messages
//   - storage/neo4j: graph persistence behind the uns.GraphStore interface
//   - historian: TimescaleDB time-series persistence
//   - republisher: Sparkplug to plain JSON mirroring
//   - mqttclient: broker connection, subscriptions, publishing
//   - service: pipeline assembly and lifecycle
//   - cmd/unsmesh: the binary
//
// Supporting packages (component, config, errors, health, metric, pkg/retry,
// pkg/tlsutil) carry the ambient concerns: lifecycle contracts, YAML
// configuration, error classification, health aggregation, Prometheus
// metrics, bounded retries and TLS setup.
package unifiednamespace
