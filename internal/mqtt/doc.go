// Package mqtt publishes exchange events to an MQTT broker so other
// systems can follow the assistant's activity without polling it.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. Each finished
// exchange is published as JSON to <prefix>/exchanges (QoS 0), and a
// retained per-day tally goes to <prefix>/stats. A retained "online"
// birth message is sent to <prefix>/availability on every connect, and
// a will message flips it to "offline" on unexpected disconnects.
//
// Publishing never blocks an exchange: events are queued on a bounded
// channel and dropped when the broker cannot keep up.
package mqtt
