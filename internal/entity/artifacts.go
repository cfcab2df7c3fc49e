package entity

import (
	"strings"
	"time"
)

// Artifact is the tagged variant over the fixed artifact set. Each owning
// service (documents, meetings, test generation, ticket sync) hands its raw
// artifact to the normalizer as one of these variants.
type Artifact interface {
	// Type returns the entity type this artifact normalizes to.
	Type() Type

	// NaturalKey returns the artifact's stable identifier within its
	// owning service. The entity ID is derived from it deterministically.
	NaturalKey() string
}

// Document is an uploaded document artifact.
type Document struct {
	DocumentID string
	Title      string
	FileName   string
	Summary    string
	Body       string
	Tags       []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (d Document) Type() Type         { return TypeDocument }
func (d Document) NaturalKey() string { return d.DocumentID }

// Meeting is a recorded meeting with its generated summary.
type Meeting struct {
	MeetingID    string
	Title        string
	Summary      string
	Transcript   string
	Participants []string
	HeldAt       time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (m Meeting) Type() Type         { return TypeMeeting }
func (m Meeting) NaturalKey() string { return m.MeetingID }

// TestStep is a single case within a generated test suite.
type TestStep struct {
	Name     string
	Steps    string
	Expected string
}

// TestSuite is a generated test-case suite artifact.
type TestSuite struct {
	SuiteID     string
	Title       string
	SourceRef   string // requirement or ticket the suite was generated from
	Description string
	Cases       []TestStep
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s TestSuite) Type() Type         { return TypeTestCase }
func (s TestSuite) NaturalKey() string { return s.SuiteID }

// Ticket is a synced ticket record from an external tracker.
type Ticket struct {
	TicketKey   string
	Title       string
	Description string
	Status      string
	Priority    string
	Assignee    string
	Labels      []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t Ticket) Type() Type         { return TypeTicket }
func (t Ticket) NaturalKey() string { return t.TicketKey }

// joinNonEmpty joins parts with sep, skipping empty strings.
func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
