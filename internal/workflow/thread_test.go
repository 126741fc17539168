package workflow

import (
	"testing"

	"contentdesk/core/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyThreadUpdateAppendsComments(t *testing.T) {
	thread := store.Thread{
		ID:       "t1",
		Status:   store.ThreadOpen,
		Comments: []store.Comment{{ID: "c1", ThreadID: "t1", Content: "first"}},
	}
	status := store.ThreadInProgress

	updated, err := ApplyThreadUpdate(thread, ThreadPatch{
		Status:         &status,
		AppendComments: []store.Comment{{ID: "c2", Content: "second"}},
	})
	require.NoError(t, err)

	assert.Equal(t, store.ThreadInProgress, updated.Status)
	require.Len(t, updated.Comments, 2)
	assert.Equal(t, "c1", updated.Comments[0].ID)
	assert.Equal(t, "c2", updated.Comments[1].ID)
	assert.Equal(t, "t1", updated.Comments[1].ThreadID)
	assert.Len(t, thread.Comments, 1, "input thread must not be modified")
}

func TestApplyThreadUpdateRejectsUnknownStatus(t *testing.T) {
	thread := store.Thread{ID: "t1", Status: store.ThreadOpen, Comments: []store.Comment{{ID: "c1"}}}
	bad := store.ThreadStatus("archived")

	got, err := ApplyThreadUpdate(thread, ThreadPatch{Status: &bad})
	require.Error(t, err)
	assert.Equal(t, store.ThreadOpen, got.Status)
	assert.Len(t, got.Comments, 1)
}
