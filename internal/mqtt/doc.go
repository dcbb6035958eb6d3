// Package mqtt publishes Quill's runtime status to an MQTT broker. The
// assistant appears as a Home Assistant device with availability
// tracking and a set of sensors: daily research activity from
// [DailyResearch] (requests, unfinished requests, tool calls, top tool,
// tokens) plus diagnostics such as uptime, version and default model.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads and a
// birth message ("online") to the availability topic. A will message
// moves the availability topic to "offline" on unexpected disconnects.
//
// When forwarding is enabled, events from the in-process bus are
// published as JSON under quill/<device>/events/<kind>.
package mqtt
