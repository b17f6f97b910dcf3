// Package mqtt mirrors diary and chat events onto an MQTT broker so
// home automations can react to them, for example a lamp that turns
// warm when a happy mood is logged.
//
// Each bus event is published as JSON to
// <prefix>/events/<source>/<kind>. A retained availability topic,
// <prefix>/availability, carries "online" while connected; a will
// message flips it to "offline" on unexpected disconnects.
//
// Connection management uses Eclipse Paho v2's [autopaho] package,
// which reconnects automatically.
package mqtt
