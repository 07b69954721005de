// Package sink delivers decoded payloads and messages to external systems.
// A Dispatcher queues deliveries, suppresses repeats within a time window
// and fans each one out to the configured webhook and MQTT sinks.
package sink
