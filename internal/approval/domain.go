// Package approval tracks access requests awaiting an admin decision, and
// provides the watcher that polls for the outcome.
package approval

import (
	"time"

	"github.com/google/uuid"

	"github.com/lawnet-hq/accessd/internal/access"
)

// Status enumerates request states.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Request is a viewer's pending plea for access to one content item.
type Request struct {
	ID           uuid.UUID      `json:"id"`
	Feature      access.Feature `json:"feature"`
	FeatureID    string         `json:"featureId"`
	Email        string         `json:"email"`
	Note         string         `json:"note,omitempty"`
	Status       Status         `json:"status"`
	ExpiresAt    *time.Time     `json:"expiresAt,omitempty"`
	DecidedBy    string         `json:"decidedBy,omitempty"`
	DecisionNote string         `json:"decisionNote,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    *time.Time     `json:"updatedAt,omitempty"`
}

// IsPending reports whether the request still awaits a decision.
func (r *Request) IsPending() bool {
	return r.Status == StatusPending
}

// IsApproved reports whether the request was approved.
func (r *Request) IsApproved() bool {
	return r.Status == StatusApproved
}

// Key returns the access key the request is about.
func (r *Request) Key() access.Key {
	return access.Key{Feature: r.Feature, FeatureID: r.FeatureID, Email: r.Email}
}
