package auth

import "github.com/nestbay/realtime/pkg/model"

type Capability string

const (
	// CapabilityAgent gates support-queue registration, accepting tickets
	// and ending sessions.
	CapabilityAgent Capability = "agent"
	// CapabilityBroadcast gates role-wide announcements.
	CapabilityBroadcast Capability = "broadcast"
)

// HasCapability is the single authorization predicate consulted by every
// role-gated handler, instead of inline role comparisons.
func HasCapability(id model.Identity, c Capability) bool {
	switch c {
	case CapabilityAgent:
		return id.Role == model.RoleAgent || id.Role == model.RoleAdmin
	case CapabilityBroadcast:
		return id.Role == model.RoleAdmin
	}
	return false
}
