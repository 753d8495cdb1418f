// Package transcription turns closed segments into delivered text.
//
// Transcriber is the one-method capability the rest of the service depends
// on. Client implements it against a whisper-style HTTP inference server by
// posting a 32-bit float WAV with language and task fields, and
// StaticTranscriber is a deterministic stand-in for tests. Dispatcher applies
// the acceptance policy, forwards accepted text to a Sink and dumps rejected
// or failed segments for inspection. Nothing here retries.
package transcription
