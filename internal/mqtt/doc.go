// Package mqtt mirrors the event bus onto an MQTT broker and accepts a
// small set of commands from it.
//
// Every event is published as JSON to <prefix>/events/<source>/<kind>.
// The most recent model status is additionally retained on
// <prefix>/model/state, and a Home Assistant discovery payload makes it
// show up as a sensor. Availability is tracked with a retained
// "online" birth message and an "offline" will.
//
// The connection uses Eclipse Paho v2's [autopaho] package, which
// reconnects on its own. Discovery, birth message and command
// subscriptions are repeated on every (re-)connect.
package mqtt
