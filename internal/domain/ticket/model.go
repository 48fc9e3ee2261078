package ticket

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patholab/lis/internal/platform/apperr"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

var transitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress, StatusClosed},
	StatusInProgress: {StatusResolved, StatusOpen},
	StatusResolved:   {StatusClosed, StatusInProgress},
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

const (
	maxTitleLength    = 200
	maxCategoryLength = 40
)

type Ticket struct {
	ID          uuid.UUID  `json:"id"`
	TicketCode  string     `json:"ticket_code"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	CreatedBy   string     `json:"created_by"`
	AssignedTo  *string    `json:"assigned_to,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type CreateInput struct {
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Priority    Priority `json:"priority"`
}

type UpdateInput struct {
	Title       *string   `json:"title"`
	Category    *string   `json:"category"`
	Description *string   `json:"description"`
	Priority    *Priority `json:"priority"`
}

type SearchFilter struct {
	Status     Status
	Category   string
	CreatedBy  string
	AssignedTo string
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperr.BadParameter("title is required")
	}
	if len([]rune(title)) > maxTitleLength {
		return apperr.BadParameter("title exceeds %d characters", maxTitleLength)
	}
	return nil
}

func validateCategory(category string) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return apperr.BadParameter("category is required")
	}
	if len(category) > maxCategoryLength {
		return apperr.BadParameter("category exceeds %d characters", maxCategoryLength)
	}
	return nil
}
