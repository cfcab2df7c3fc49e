package entity

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reterr "github.com/novadesk/retrieval/internal/errors"
)

func TestNormalizeValidation(t *testing.T) {
	doc := Document{DocumentID: "d1", Body: "hello"}

	tests := []struct {
		name     string
		artifact Artifact
		tenantID string
		wantCode string
	}{
		{name: "missing tenant", artifact: doc, tenantID: "", wantCode: reterr.ErrCodeMissingTenant},
		{name: "blank tenant", artifact: doc, tenantID: "   ", wantCode: reterr.ErrCodeMissingTenant},
		{name: "nil artifact", artifact: nil, tenantID: "acme", wantCode: reterr.ErrCodeValidation},
		{name: "empty natural key", artifact: Document{Body: "hello"}, tenantID: "acme", wantCode: reterr.ErrCodeValidation},
		{name: "empty content", artifact: Document{DocumentID: "d1", Body: "   "}, tenantID: "acme", wantCode: reterr.ErrCodeEmptyContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Normalize(tt.artifact, tt.tenantID)
			require.Error(t, err)
			assert.Nil(t, e)
			assert.Equal(t, tt.wantCode, reterr.GetCode(err))
		})
	}
}

func TestNormalizeDocument(t *testing.T) {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	updated := created.Add(48 * time.Hour)
	doc := Document{
		DocumentID: "d1",
		Title:      "Release Plan",
		FileName:   "release-plan.md",
		Summary:    "Plan for the Q2 release.",
		Body:       "Ship the new index by April.",
		Tags:       []string{"release", "planning"},
		CreatedAt:  created,
		UpdatedAt:  updated,
	}

	e, err := Normalize(doc, "acme")
	require.NoError(t, err)

	assert.Equal(t, TypeDocument, e.Type)
	assert.Equal(t, "acme", e.TenantID)
	assert.Equal(t, EntityID("acme", TypeDocument, "d1"), e.ID)
	assert.Equal(t, created, e.CreatedAt)
	assert.Equal(t, updated, e.UpdatedAt)

	assert.Contains(t, e.Content, "Title: Release Plan")
	assert.Contains(t, e.Content, "File: release-plan.md")
	assert.Contains(t, e.Content, "Plan for the Q2 release.")
	assert.Contains(t, e.Content, "Ship the new index by April.")

	title, ok := e.Metadata.Get("title")
	require.True(t, ok)
	assert.Equal(t, "Release Plan", title)
	tags, ok := e.Metadata.Get("tags")
	require.True(t, ok)
	assert.Equal(t, "release,planning", tags)
}

func TestNormalizeMeeting(t *testing.T) {
	held := time.Date(2025, 5, 12, 14, 30, 0, 0, time.UTC)
	m := Meeting{
		MeetingID:    "m1",
		Title:        "Sprint Review",
		Participants: []string{"Ada", "Grace"},
		Summary:      "Reviewed the search latency work.",
		Transcript:   "Ada: latency is down to 40ms.",
		HeldAt:       held,
	}

	e, err := Normalize(m, "acme")
	require.NoError(t, err)
	assert.Equal(t, TypeMeeting, e.Type)
	assert.Contains(t, e.Content, "Meeting: Sprint Review")
	assert.Contains(t, e.Content, "Participants: Ada, Grace")
	assert.Contains(t, e.Content, "latency is down to 40ms")

	heldAt, ok := e.Metadata.Get("held_at")
	require.True(t, ok)
	assert.Equal(t, "2025-05-12T14:30:00Z", heldAt)
}

func TestNormalizeTestSuite(t *testing.T) {
	s := TestSuite{
		SuiteID:     "s1",
		Title:       "Login Suite",
		SourceRef:   "qa/login.yaml",
		Description: "Covers the login flows.",
		Cases: []TestStep{
			{Name: "valid credentials", Steps: "enter user and password", Expected: "dashboard loads"},
			{Name: "wrong password", Steps: "enter bad password", Expected: "error shown"},
		},
	}

	e, err := Normalize(s, "acme")
	require.NoError(t, err)
	assert.Equal(t, TypeTestCase, e.Type)
	assert.Contains(t, e.Content, "Test Suite: Login Suite")
	assert.Contains(t, e.Content, "Case 1: valid credentials")
	assert.Contains(t, e.Content, "Case 2: wrong password")
	assert.Contains(t, e.Content, "Expected: error shown")

	count, ok := e.Metadata.Get("case_count")
	require.True(t, ok)
	assert.Equal(t, "2", count)
}

func TestNormalizeTicket(t *testing.T) {
	tk := Ticket{
		TicketKey:   "NOVA-42",
		Title:       "Search returns stale results",
		Status:      "open",
		Priority:    "high",
		Assignee:    "grace",
		Description: "Deleted documents still appear in results.",
		Labels:      []string{"search", "bug"},
	}

	e, err := Normalize(tk, "acme")
	require.NoError(t, err)
	assert.Equal(t, TypeTicket, e.Type)
	assert.Contains(t, e.Content, "Ticket NOVA-42: Search returns stale results")
	assert.Contains(t, e.Content, "Status: open")
	assert.Contains(t, e.Content, "Deleted documents still appear")

	key, ok := e.Metadata.Get("ticket_key")
	require.True(t, ok)
	assert.Equal(t, "NOVA-42", key)
	labels, ok := e.Metadata.Get("labels")
	require.True(t, ok)
	assert.Equal(t, "search,bug", labels)
}

func TestNormalizeDeterministic(t *testing.T) {
	doc := Document{DocumentID: "d1", Title: "Stable", Body: "Same input, same output."}

	first, err := Normalize(doc, "acme")
	require.NoError(t, err)
	second, err := Normalize(doc, "acme")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Metadata, second.Metadata)
}

func TestNormalizeZeroUpdatedAtFallsBackToCreated(t *testing.T) {
	created := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	e, err := Normalize(Document{DocumentID: "d1", Body: "text", CreatedAt: created}, "acme")
	require.NoError(t, err)
	assert.Equal(t, created, e.UpdatedAt)
}

func TestEntityID(t *testing.T) {
	id := EntityID("acme", TypeDocument, "d1")
	assert.Len(t, id, 16)
	assert.Equal(t, id, EntityID("acme", TypeDocument, "d1"))

	// Each component participates in the hash.
	assert.NotEqual(t, id, EntityID("globex", TypeDocument, "d1"))
	assert.NotEqual(t, id, EntityID("acme", TypeTicket, "d1"))
	assert.NotEqual(t, id, EntityID("acme", TypeDocument, "d2"))
}

func TestTypeValid(t *testing.T) {
	for _, typ := range AllTypes {
		assert.True(t, typ.Valid())
	}
	assert.False(t, Type("note").Valid())
	assert.False(t, Type("").Valid())
}

func TestMetadataSetGet(t *testing.T) {
	var m Metadata
	m = m.Set("a", "1")
	m = m.Set("b", "2")
	m = m.Set("a", "3")

	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok = m.Get("missing")
	assert.False(t, ok)

	// Replacing a key keeps its original position.
	require.Len(t, m, 2)
	assert.Equal(t, "a", m[0].Key)
	assert.Equal(t, "b", m[1].Key)
}

func TestMetadataJSONOrder(t *testing.T) {
	var m Metadata
	m = m.Set("zebra", "z")
	m = m.Set("alpha", "a")
	m = m.Set("mid", "m")

	data, err := json.Marshal(m)
	require.NoError(t, err)

	// Insertion order, not sorted order.
	s := string(data)
	assert.Less(t, strings.Index(s, "zebra"), strings.Index(s, "alpha"))
	assert.Less(t, strings.Index(s, "alpha"), strings.Index(s, "mid"))

	var back Metadata
	require.NoError(t, json.Unmarshal(data, &back))
	for _, f := range m {
		v, ok := back.Get(f.Key)
		require.True(t, ok)
		assert.Equal(t, f.Value, v)
	}
}
