// Package shared holds small helpers shared across the transport core,
// mirroring go-amqp's internal/shared grab-bag of link-naming/id-generation
// utilities.
package shared

import "github.com/google/uuid"

// NewLinkName returns a fresh unique name for a link or session, used when
// the caller does not supply one explicitly.
func NewLinkName() string {
	return uuid.NewString()
}

// NewGroupSessionID returns a fresh unique identifier for a multicast group
// session.
func NewGroupSessionID() string {
	return uuid.NewString()
}
