// Package debugdump saves raw segments that were rejected or failed
// transcription as WAV files for offline listening.
package debugdump
