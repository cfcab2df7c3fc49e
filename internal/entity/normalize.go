package entity

import (
	"fmt"
	"strings"
	"time"

	reterr "github.com/novadesk/retrieval/internal/errors"
)

// Normalize converts a raw artifact into the canonical searchable record.
// Formatting is deterministic: the same artifact always produces the same
// content string and metadata, which idempotent re-indexing depends on.
//
// Returns a validation error when tenantID is missing, the artifact has no
// natural key, or the formatted content is empty.
func Normalize(artifact Artifact, tenantID string) (*SearchableEntity, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, reterr.New(reterr.ErrCodeMissingTenant, "tenant_id is required", nil)
	}
	if artifact == nil {
		return nil, reterr.Validation("artifact is nil", nil)
	}
	if !artifact.Type().Valid() {
		return nil, reterr.New(reterr.ErrCodeInvalidType,
			fmt.Sprintf("unknown entity type %q", artifact.Type()), nil)
	}
	if strings.TrimSpace(artifact.NaturalKey()) == "" {
		return nil, reterr.Validation("artifact natural key is empty", nil)
	}

	var content string
	var meta Metadata
	var created, updated time.Time

	switch a := artifact.(type) {
	case Document:
		content = formatDocument(a)
		meta = documentMetadata(a)
		created, updated = a.CreatedAt, a.UpdatedAt
	case Meeting:
		content = formatMeeting(a)
		meta = meetingMetadata(a)
		created, updated = a.CreatedAt, a.UpdatedAt
	case TestSuite:
		content = formatTestSuite(a)
		meta = testSuiteMetadata(a)
		created, updated = a.CreatedAt, a.UpdatedAt
	case Ticket:
		content = formatTicket(a)
		meta = ticketMetadata(a)
		created, updated = a.CreatedAt, a.UpdatedAt
	default:
		return nil, reterr.New(reterr.ErrCodeInvalidType,
			fmt.Sprintf("unsupported artifact variant %T", artifact), nil)
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, reterr.New(reterr.ErrCodeEmptyContent,
			fmt.Sprintf("%s %s has no searchable content", artifact.Type(), artifact.NaturalKey()), nil)
	}

	if updated.IsZero() {
		updated = created
	}

	return &SearchableEntity{
		ID:        EntityID(tenantID, artifact.Type(), artifact.NaturalKey()),
		Type:      artifact.Type(),
		TenantID:  tenantID,
		Content:   content,
		Metadata:  meta,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func formatDocument(d Document) string {
	return joinNonEmpty("\n\n",
		joinNonEmpty("\n",
			prefixed("Title: ", d.Title),
			prefixed("File: ", d.FileName)),
		d.Summary,
		d.Body)
}

func documentMetadata(d Document) Metadata {
	var m Metadata
	m = m.Set("title", d.Title)
	m = m.Set("file_name", d.FileName)
	if len(d.Tags) > 0 {
		m = m.Set("tags", strings.Join(d.Tags, ","))
	}
	return m
}

func formatMeeting(m Meeting) string {
	header := joinNonEmpty("\n",
		prefixed("Meeting: ", m.Title),
		prefixed("Participants: ", strings.Join(m.Participants, ", ")))
	return joinNonEmpty("\n\n", header, m.Summary, m.Transcript)
}

func meetingMetadata(m Meeting) Metadata {
	var md Metadata
	md = md.Set("title", m.Title)
	if !m.HeldAt.IsZero() {
		md = md.Set("held_at", m.HeldAt.UTC().Format(time.RFC3339))
	}
	if len(m.Participants) > 0 {
		md = md.Set("participants", strings.Join(m.Participants, ","))
	}
	return md
}

func formatTestSuite(s TestSuite) string {
	parts := []string{
		joinNonEmpty("\n",
			prefixed("Test Suite: ", s.Title),
			prefixed("Source: ", s.SourceRef)),
		s.Description,
	}
	for i, c := range s.Cases {
		parts = append(parts, joinNonEmpty("\n",
			fmt.Sprintf("Case %d: %s", i+1, c.Name),
			prefixed("Steps: ", c.Steps),
			prefixed("Expected: ", c.Expected)))
	}
	return joinNonEmpty("\n\n", parts...)
}

func testSuiteMetadata(s TestSuite) Metadata {
	var m Metadata
	m = m.Set("title", s.Title)
	m = m.Set("source_ref", s.SourceRef)
	m = m.Set("case_count", fmt.Sprintf("%d", len(s.Cases)))
	return m
}

func formatTicket(t Ticket) string {
	header := joinNonEmpty("\n",
		prefixed("Ticket ", t.TicketKey+": "+t.Title),
		prefixed("Status: ", t.Status),
		prefixed("Priority: ", t.Priority),
		prefixed("Assignee: ", t.Assignee))
	return joinNonEmpty("\n\n", header, t.Description)
}

func ticketMetadata(t Ticket) Metadata {
	var m Metadata
	m = m.Set("ticket_key", t.TicketKey)
	m = m.Set("title", t.Title)
	m = m.Set("status", t.Status)
	m = m.Set("priority", t.Priority)
	if t.Assignee != "" {
		m = m.Set("assignee", t.Assignee)
	}
	if len(t.Labels) > 0 {
		m = m.Set("labels", strings.Join(t.Labels, ","))
	}
	return m
}

// prefixed returns prefix+value, or empty when value is empty.
func prefixed(prefix, value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return prefix + value
}
