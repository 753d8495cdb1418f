package segment

import (
	"fmt"
	"time"

	"github.com/skypro1111/utterance-service/internal/audio"
)

// State is the recording state of the session
type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Segment is one closed recording handed to the pipeline. It is not modified
// after the controller creates it.
type Segment struct {
	ID             string
	Source         string
	StartedAt      time.Time
	ClosedAt       time.Time
	Packets        uint64
	Truncations    uint64
	DiscardedBytes uint64
	Samples        []int16
}

// Duration returns the audio length of the segment
func (s *Segment) Duration(sampleRate int) time.Duration {
	return audio.Duration(len(s.Samples), sampleRate)
}

// session is the single recording owned by a Controller. All fields are
// guarded by the controller's mutex.
type session struct {
	state      State
	buffer     *audio.Buffer
	source     string
	startedAt  time.Time
	lastPacket time.Time // zero while idle
	packets    uint64
}

// Snapshot is a point-in-time view of the session for the status API
type Snapshot struct {
	State          string    `json:"state"`
	Source         string    `json:"source,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	LastPacketAt   time.Time `json:"last_packet_at,omitempty"`
	IdleSeconds    float64   `json:"idle_seconds"`
	Packets        uint64    `json:"packets"`
	BufferBytes    int       `json:"buffer_bytes"`
	BufferSeconds  float64   `json:"buffer_seconds"`
	Truncations    uint64    `json:"truncations"`
	DiscardedBytes uint64    `json:"discarded_bytes"`
}
