package transcription

import "context"

// Transcriber turns normalised mono audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (*Response, error)
}

// Request is one transcription call. Samples are in [-1, 1].
type Request struct {
	Samples    []float32
	SampleRate int
	Language   string
	Task       string // "transcribe" or "translate"
}

// Response mirrors the verbose_json output of whisper-style servers
type Response struct {
	Text     string    `json:"text"`
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
}

// Segment represents a segment of transcribed text
type Segment struct {
	ID           int     `json:"id"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	AvgLogprob   float64 `json:"avg_logprob"`
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// Confidence returns the avg_logprob of the first segment, if any
func (r *Response) Confidence() (float64, bool) {
	if r == nil || len(r.Segments) == 0 {
		return 0, false
	}
	return r.Segments[0].AvgLogprob, true
}
