package workflow

import (
	"fmt"

	"contentdesk/core/internal/store"
)

// ThreadPatch describes an append-only change to a comment thread.
type ThreadPatch struct {
	Status         *store.ThreadStatus `json:"status,omitempty"`
	Title          *string             `json:"title,omitempty"`
	AppendComments []store.Comment     `json:"comments,omitempty"`
}

// ApplyThreadUpdate returns a new thread with patch applied. Prior comments
// are always kept; the input thread is not modified.
func ApplyThreadUpdate(thread store.Thread, patch ThreadPatch) (store.Thread, error) {
	out := store.CloneThread(thread)
	if patch.Status != nil {
		status, ok := store.ParseThreadStatus(string(*patch.Status))
		if !ok {
			return thread, fmt.Errorf("invalid thread status %q", *patch.Status)
		}
		out.Status = status
	}
	if patch.Title != nil {
		out.Title = *patch.Title
	}
	for _, comment := range patch.AppendComments {
		comment.ThreadID = out.ID
		out.Comments = append(out.Comments, comment)
	}
	return out, nil
}
