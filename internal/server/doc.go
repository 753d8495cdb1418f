// Package server implements the UDP listener that feeds raw PCM-16 packets to
// the segmentation controller, and the read-only HTTP status API.
package server
