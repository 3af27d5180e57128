package model

import (
	"fmt"
	"math"
	"time"
)

// SegmentStatus is the lifecycle stage of a transcription segment.
type SegmentStatus int

const (
	StatusQueued SegmentStatus = iota
	StatusTranscribing
	StatusComplete
	StatusError
)

func (s SegmentStatus) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusTranscribing:
		return "transcribing"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("SegmentStatus(%d)", int(s))
	}
}

// ParseSegmentStatus is the inverse of String.
func ParseSegmentStatus(s string) (SegmentStatus, error) {
	switch s {
	case "queued":
		return StatusQueued, nil
	case "transcribing":
		return StatusTranscribing, nil
	case "complete":
		return StatusComplete, nil
	case "error":
		return StatusError, nil
	}
	return 0, fmt.Errorf("unknown segment status %q", s)
}

func (s SegmentStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SegmentStatus) UnmarshalText(b []byte) error {
	v, err := ParseSegmentStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Terminal reports whether the status ends an attempt.
func (s SegmentStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// CanTransition reports whether a segment may move from s to next.
//
//	queued       -> transcribing
//	transcribing -> complete | error
//	error        -> transcribing   (manual or triggered retry)
//
// complete never changes again.
func (s SegmentStatus) CanTransition(next SegmentStatus) bool {
	switch s {
	case StatusQueued:
		return next == StatusTranscribing
	case StatusTranscribing:
		return next == StatusComplete || next == StatusError
	case StatusError:
		return next == StatusTranscribing
	default:
		return false
	}
}

// TextSource records which transcriber produced a segment's text.
type TextSource string

const (
	SourceNone     TextSource = ""
	SourceRemote   TextSource = "remote"
	SourceFallback TextSource = "fallback"
)

// Segment is a time-bounded slice [StartTime, EndTime) of one recording.
// StartTime = EndTime = 0 means the whole recording.
type Segment struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	AudioFilename string        `json:"audio_filename"`
	Seq           int           `json:"seq"`
	StartTime     float64       `json:"start_time"`
	EndTime       float64       `json:"end_time"`
	Status        SegmentStatus `json:"status"`
	Text          string        `json:"text"`
	Source        TextSource    `json:"source,omitempty"`
	Attempts      int           `json:"attempts"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// WholeFile reports whether the segment uses the whole-recording sentinel.
func (s *Segment) WholeFile() bool {
	return s.StartTime == 0 && s.EndTime == 0
}

// Duration returns the window length in seconds (0 for the whole-file sentinel).
func (s *Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Window is the retry identity of a segment: one attempt per window may be in flight.
func (s *Segment) Window() Window {
	return Window{SessionID: s.SessionID, StartTime: s.StartTime, EndTime: s.EndTime}
}

// Window identifies a slice of a session independently of any segment instance.
type Window struct {
	SessionID string
	StartTime float64
	EndTime   float64
}

func (w Window) String() string {
	return fmt.Sprintf("%s[%.3f,%.3f)", w.SessionID, w.StartTime, w.EndTime)
}

// ValidateWindow checks 0 <= start < end with finite bounds, allowing the 0,0 sentinel.
func ValidateWindow(start, end float64) error {
	if start == 0 && end == 0 {
		return nil
	}
	if !finite(start) || !finite(end) || start < 0 || end <= start {
		return fmt.Errorf("invalid segment window [%v,%v)", start, end)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// QueuedSegment is the offline retry record for a failed segment.
// It only keeps the window so it survives the segment being unreachable.
type QueuedSegment struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	StartTime float64   `json:"start_time"`
	EndTime   float64   `json:"end_time"`
	CreatedAt time.Time `json:"created_at"`
}

func (q *QueuedSegment) Window() Window {
	return Window{SessionID: q.SessionID, StartTime: q.StartTime, EndTime: q.EndTime}
}
