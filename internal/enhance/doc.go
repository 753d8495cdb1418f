// Package enhance conditions a complete speech segment before transcription.
//
// Five stages run in order: noise floor suppression from the lead-in, a
// zero-phase Butterworth band-pass over the telephone voice band, peak-relative
// compression, capped automatic gain, and a Wiener-style envelope gain. The
// result is clipped and rounded back to PCM-16.
//
// Processing fails closed: if any stage cannot run or produces a non-finite
// value, the original segment is returned unchanged with StatusDegraded.
package enhance
