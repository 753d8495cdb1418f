// Package segment turns the UDP packet stream into utterances. A Controller
// records packets into a capped buffer and closes the recording after a
// period of silence; a Pipeline checks, analyses, conditions and dispatches
// each closed segment.
package segment
