package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCaseStatus(t *testing.T) {
	cases := map[string]CaseStatus{
		"Submitted":  CaseSubmitted,
		" submitted": CaseSubmitted,
		"Pending":    CaseSubmitted,
		"NEW":        CaseSubmitted,
		"approved":   CaseApproved,
		"Declined ":  CaseDeclined,
	}
	for in, want := range cases {
		got, err := ParseCaseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseCaseStatus("archived")
	assert.Error(t, err)
}

func TestParseMissionOrderStatus(t *testing.T) {
	cases := map[string]MissionOrderStatus{
		"Draft":          MissionOrderDraft,
		"ISSUED":         MissionOrderIssued,
		"for inspection": MissionOrderForInspection,
		"For_Inspection": MissionOrderForInspection,
		"forinspection":  MissionOrderForInspection,
		"canceled":       MissionOrderCancelled,
		"Cancelled":      MissionOrderCancelled,
	}
	for in, want := range cases {
		got, err := ParseMissionOrderStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMissionOrderStatus("completed")
	assert.Error(t, err)

	assert.True(t, MissionOrderDraft.Editable())
	assert.True(t, MissionOrderIssued.Editable())
	assert.False(t, MissionOrderForInspection.Editable())
	assert.False(t, MissionOrderCancelled.Editable())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("Head Inspector")
	require.NoError(t, err)
	assert.Equal(t, RoleHeadInspector, r)
	_, err = ParseRole("mayor")
	assert.Error(t, err)
}
