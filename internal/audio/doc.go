// Package audio handles recording buffers and PCM format conversion.
// It accumulates raw little-endian PCM-16 audio under a size cap with a
// keep-newest overflow policy, converts between bytes, samples and normalised
// floats, and encodes WAV files (PCM-16 and 32-bit float) for transcription
// and debugging.
package audio
