package domain

import (
	"time"

	"github.com/google/uuid"
)

// DownloadGrant is the permanent record that a client may download an asset.
// There is at most one grant per (SessionID, ClientKey, AssetID).
type DownloadGrant struct {
	SessionID      string
	ClientKey      string
	AssetID        string
	Paid           bool
	CheckoutID     *uuid.UUID
	FirstGrantedAt time.Time
}

// GrantSet is the set of asset IDs already granted to one client in one session.
type GrantSet map[string]struct{}

// NewGrantSet builds a GrantSet from asset IDs.
func NewGrantSet(assetIDs ...string) GrantSet {
	s := make(GrantSet, len(assetIDs))
	for _, id := range assetIDs {
		s[id] = struct{}{}
	}
	return s
}

// GrantSetFrom builds a GrantSet from stored grants.
func GrantSetFrom(grants []DownloadGrant) GrantSet {
	s := make(GrantSet, len(grants))
	for _, g := range grants {
		s[g.AssetID] = struct{}{}
	}
	return s
}

// Has reports whether assetID has been granted.
func (s GrantSet) Has(assetID string) bool {
	_, ok := s[assetID]
	return ok
}

// Len returns the number of distinct granted assets, free and paid.
func (s GrantSet) Len() int {
	return len(s)
}

// Add marks assetID as granted.
func (s GrantSet) Add(assetID string) {
	s[assetID] = struct{}{}
}

// Clone returns an independent copy.
func (s GrantSet) Clone() GrantSet {
	c := make(GrantSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}
