package model

import (
	"strings"
	"time"
)

// Session is one recorded take. Filename names the encrypted artifact, never a plaintext path.
type Session struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Filename   string     `json:"filename"`
	Format     string     `json:"format"`
	Duration   float64    `json:"duration"`
	SourceHash string     `json:"source_hash,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Segments   []*Segment `json:"segments,omitempty"`
}

// Transcript joins the completed segment texts in segment order.
func (s *Session) Transcript() string {
	var b strings.Builder
	for _, seg := range s.Segments {
		if seg.Status != StatusComplete || seg.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}

// StatusCounts tallies segments by status.
func (s *Session) StatusCounts() map[string]int {
	counts := make(map[string]int, 4)
	for _, seg := range s.Segments {
		counts[seg.Status.String()]++
	}
	return counts
}

// Ext returns the plaintext container extension, e.g. ".m4a".
func (s *Session) Ext() string {
	if s.Format == "" {
		return ""
	}
	return "." + strings.TrimPrefix(s.Format, ".")
}

// SessionFilter selects sessions in ListSessions.
type SessionFilter struct {
	TitleContains string
	Limit         int
	Offset        int
}
