// Package delivery forwards accepted transcripts to the capture device.
// Each text is POSTed once as {"text": "..."} to the device's receive
// endpoint. A circuit breaker drops texts immediately while the device is
// unreachable instead of waiting out the request timeout for each one.
package delivery
