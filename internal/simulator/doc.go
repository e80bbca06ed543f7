// Package simulator plays the habitat device and the platform broker for
// local development and end-to-end tests.
//
// A Device connects to a broker with autopaho, answers shadow queries
// and control commands addressed to its device id, and reports drifting
// telemetry on properties/report. NewBroker builds an embedded mochi
// broker whose authentication accepts the device's derived credentials.
package simulator
