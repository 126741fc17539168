package store

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusDraft                     Status = "draft"
	StatusMarketingReviewInProgress Status = "marketing-review-in-progress"
	StatusMarketingReviewCompleted  Status = "marketing-review-completed"
	StatusReadyForComplianceReview  Status = "ready-for-compliance-review"
	StatusComplianceApproved        Status = "compliance-approved"
	StatusReadyForDeployment        Status = "ready-for-deployment"
	StatusDeployed                  Status = "deployed"
	StatusInProduction              Status = "in-production"
)

// Statuses returns the canonical forward path in order.
func Statuses() []Status {
	return []Status{
		StatusDraft,
		StatusMarketingReviewInProgress,
		StatusMarketingReviewCompleted,
		StatusReadyForComplianceReview,
		StatusComplianceApproved,
		StatusReadyForDeployment,
		StatusDeployed,
		StatusInProduction,
	}
}

func ParseStatus(value string) (Status, bool) {
	for _, status := range Statuses() {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// NormalizeStatus maps unknown values to draft.
func NormalizeStatus(value string) Status {
	if status, ok := ParseStatus(value); ok {
		return status
	}
	return StatusDraft
}

type ThreadStatus string

const (
	ThreadOpen          ThreadStatus = "open"
	ThreadInProgress    ThreadStatus = "in-progress"
	ThreadNeedsRevision ThreadStatus = "needs-revision"
	ThreadCompleted     ThreadStatus = "completed"
)

func ParseThreadStatus(value string) (ThreadStatus, bool) {
	switch ThreadStatus(value) {
	case ThreadOpen, ThreadInProgress, ThreadNeedsRevision, ThreadCompleted:
		return ThreadStatus(value), true
	default:
		return "", false
	}
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Project struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Content      string    `json:"content"`
	Status       Status    `json:"status"`
	Category     string    `json:"category"`
	LastUpdated  time.Time `json:"lastUpdated"`
	URL          string    `json:"url,omitempty"`
	CommentCount int       `json:"commentCount"`
	Thumbnail    string    `json:"thumbnail,omitempty"`
	IsUpdated    bool      `json:"isUpdated,omitempty"`
}

// UnmarshalJSON accepts the server's updatedAt alongside lastUpdated. When
// both are present the later one wins, since the server refreshes updatedAt
// on every write.
func (p *Project) UnmarshalJSON(data []byte) error {
	type plain Project
	aux := struct {
		*plain
		UpdatedAt *time.Time `json:"updatedAt"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.UpdatedAt != nil && aux.UpdatedAt.After(p.LastUpdated) {
		p.LastUpdated = *aux.UpdatedAt
	}
	return nil
}

// ProjectPatch carries only the fields a caller or event wants to change.
type ProjectPatch struct {
	Name         *string    `json:"name,omitempty"`
	Description  *string    `json:"description,omitempty"`
	Content      *string    `json:"content,omitempty"`
	Status       *Status    `json:"status,omitempty"`
	Category     *string    `json:"category,omitempty"`
	URL          *string    `json:"url,omitempty"`
	Thumbnail    *string    `json:"thumbnail,omitempty"`
	CommentCount *int       `json:"commentCount,omitempty"`
	LastUpdated  *time.Time `json:"lastUpdated,omitempty"`
}

func (p ProjectPatch) IsEmpty() bool {
	return p == (ProjectPatch{})
}

func (p Project) Apply(patch ProjectPatch) Project {
	out := p
	if patch.Name != nil {
		out.Name = *patch.Name
	}
	if patch.Description != nil {
		out.Description = *patch.Description
	}
	if patch.Content != nil {
		out.Content = *patch.Content
	}
	if patch.Status != nil {
		out.Status = NormalizeStatus(string(*patch.Status))
	}
	if patch.Category != nil {
		out.Category = *patch.Category
	}
	if patch.URL != nil {
		out.URL = *patch.URL
	}
	if patch.Thumbnail != nil {
		out.Thumbnail = *patch.Thumbnail
	}
	if patch.CommentCount != nil {
		out.CommentCount = *patch.CommentCount
	}
	if patch.LastUpdated != nil {
		out.LastUpdated = *patch.LastUpdated
	}
	return out
}

// Merge overlays the non-zero fields of a server-returned project.
func (p Project) Merge(server Project) Project {
	out := p
	if server.ID != "" {
		out.ID = server.ID
	}
	if server.Name != "" {
		out.Name = server.Name
	}
	if server.Description != "" {
		out.Description = server.Description
	}
	if server.Content != "" {
		out.Content = server.Content
	}
	if server.Status != "" {
		out.Status = NormalizeStatus(string(server.Status))
	}
	if server.Category != "" {
		out.Category = server.Category
	}
	if !server.LastUpdated.IsZero() {
		out.LastUpdated = server.LastUpdated
	}
	if server.URL != "" {
		out.URL = server.URL
	}
	if server.Thumbnail != "" {
		out.Thumbnail = server.Thumbnail
	}
	return out
}

type Thread struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"projectId"`
	Title     string       `json:"title"`
	Status    ThreadStatus `json:"status"`
	CreatedBy string       `json:"createdBy"`
	CreatedAt time.Time    `json:"createdAt"`
	Comments  []Comment    `json:"comments"`
}

type Comment struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"threadId"`
	Content    string    `json:"content"`
	Author     string    `json:"author"`
	AuthorRole string    `json:"authorRole"`
	CreatedAt  time.Time `json:"createdAt"`
}
