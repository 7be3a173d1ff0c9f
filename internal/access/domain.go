// Package access owns time-boxed access grants: who may see which content
// item, and until when. All reads are fail-closed; a caller that cannot
// prove an active grant sees locked content.
package access

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Feature identifies a gated content category.
type Feature string

const (
	FeatureArticle   Feature = "article"
	FeaturePlaylist  Feature = "playlist"
	FeatureExam      Feature = "exam"
	FeatureClassroom Feature = "classroom"
	FeatureBook      Feature = "book"
	FeatureResearch  Feature = "research-drafting"
)

var knownFeatures = map[Feature]struct{}{
	FeatureArticle:   {},
	FeaturePlaylist:  {},
	FeatureExam:      {},
	FeatureClassroom: {},
	FeatureBook:      {},
	FeatureResearch:  {},
}

// ErrUnknownFeature marks a feature tag outside the supported set.
var ErrUnknownFeature = errors.New("access: unknown feature")

// ParseFeature validates a feature tag from the wire.
func ParseFeature(s string) (Feature, error) {
	f := Feature(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := knownFeatures[f]; !ok {
		return "", ErrUnknownFeature
	}
	return f, nil
}

// Valid reports whether the feature is in the supported set.
func (f Feature) Valid() bool {
	_, ok := knownFeatures[f]
	return ok
}

var featureTitle = cases.Title(language.English)

// DisplayName returns a human-readable label, e.g. "Research Drafting".
func (f Feature) DisplayName() string {
	return featureTitle.String(strings.ReplaceAll(string(f), "-", " "))
}

// Key identifies one viewer's access to one content item. Email is the sole
// identity correlation key; an empty email means an anonymous viewer.
type Key struct {
	Feature   Feature `json:"feature"`
	FeatureID string  `json:"featureId"`
	Email     string  `json:"email"`
}

// Validate checks the structural constraints on a key. Email may be empty.
func (k Key) Validate() error {
	if !k.Feature.Valid() {
		return ErrUnknownFeature
	}
	if k.FeatureID == "" {
		return errors.New("access: feature id required")
	}
	return nil
}

// Anonymous reports whether the key carries no viewer identity.
func (k Key) Anonymous() bool {
	return k.Email == ""
}

// Grant sources.
const (
	SourceApproved = "approved" // granted through an approved request
	SourceDirect   = "direct"   // granted directly by an admin
)

// Record is the cached view of a single grant. The expiry is owned by the
// server; absence of one means locked.
type Record struct {
	Key       Key        `json:"key"`
	Source    string     `json:"source,omitempty"`
	GrantedAt time.Time  `json:"grantedAt,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Active reports whether the record grants access at the given instant.
func (r Record) Active(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.After(now)
}

// Remaining returns the time left before expiry, clamped at zero.
func (r Record) Remaining(now time.Time) time.Duration {
	if r.ExpiresAt == nil {
		return 0
	}
	d := r.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Locked returns the fail-closed record for a key.
func Locked(key Key) Record {
	return Record{Key: key}
}
