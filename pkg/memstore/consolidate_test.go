package memstore

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolidate_MergesNearDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	idA, err := s.Remember(ctx, MustSubject("user.editor"), "Uses VS Code.", SourceUser)
	require.NoError(t, err)

	// Recall while only A exists so A's access count is higher and it
	// wins the survivor rule.
	_, err = s.Recall(ctx, "editor", 5, 0)
	require.NoError(t, err)

	idB, err := s.Remember(ctx, MustSubject("user.editor"), "Uses VS Code. Dark theme enabled.", SourceAgent)
	require.NoError(t, err)

	merged, err := s.Consolidate(ctx, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	memories, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, memories, 1)

	survivor := memories[0]
	assert.Equal(t, idA, survivor.ID)
	assert.NotEqual(t, idB, survivor.ID)
	// Survivor keeps its subject and gains the loser's distinct sentence
	assert.Equal(t, "user.editor", survivor.Subject)
	assert.Contains(t, survivor.Content, "Uses VS Code.")
	assert.Contains(t, survivor.Content, "Dark theme enabled.")
	assert.Equal(t, 1, strings.Count(survivor.Content, "Uses VS Code."))
}

func TestConsolidate_NeverCrossesNamespaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Remember(ctx, MustSubject("user.editor"), "Uses VS Code", SourceUser)
	require.NoError(t, err)
	_, err = s.Remember(ctx, MustSubject("project.editor"), "Uses VS Code", SourceUser)
	require.NoError(t, err)

	merged, err := s.Consolidate(ctx, 0.7)
	require.NoError(t, err)
	assert.Equal(t, 0, merged)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestConsolidate_BelowThresholdUntouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Remember(ctx, MustSubject("user.preference.language"), "Prefers Python over Ruby", SourceUser)
	require.NoError(t, err)
	_, err = s.Remember(ctx, MustSubject("user.preference.coffee"), "Drinks espresso every morning", SourceUser)
	require.NoError(t, err)

	merged, err := s.Consolidate(ctx, 0.85)
	require.NoError(t, err)
	assert.Equal(t, 0, merged)
}

func TestConsolidate_NeverIncreasesCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	subjects := []string{"user.a", "user.b", "self.identity", "session.now"}
	contents := []string{
		"First distinct fact about something",
		"Second unrelated observation entirely",
		"Assistant persona notes go here",
		"Current session is about refactoring",
	}
	for i := range subjects {
		_, err := s.Remember(ctx, MustSubject(subjects[i]), contents[i], SourceAgent)
		require.NoError(t, err)
	}

	before, err := s.Count(ctx)
	require.NoError(t, err)

	merged, err := s.Consolidate(ctx, 0.85)
	require.NoError(t, err)

	after, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before-merged, after)
	assert.LessOrEqual(t, after, before)
}

func TestConsolidate_ThresholdValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Consolidate(context.Background(), 1.5)
	assert.Error(t, err)
}

func TestMergeContent(t *testing.T) {
	tests := []struct {
		name     string
		survivor string
		loser    string
		want     string
	}{
		{
			name:     "identical content unchanged",
			survivor: "Uses VS Code.",
			loser:    "uses vs code",
			want:     "Uses VS Code.",
		},
		{
			name:     "distinct sentence appended",
			survivor: "Uses VS Code.",
			loser:    "Prefers dark themes.",
			want:     "Uses VS Code.\nPrefers dark themes.",
		},
		{
			name:     "partial overlap",
			survivor: "Uses VS Code. Prefers tabs.",
			loser:    "Uses VS Code. Runs Linux.",
			want:     "Uses VS Code. Prefers tabs.\nRuns Linux.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mergeContent(tt.survivor, tt.loser))
		})
	}
}
