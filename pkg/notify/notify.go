// Package notify defines the addressing scheme and publish contract for
// server->client event fan-out. Delivery is best-effort: identities with no
// live connection simply miss the event and reconcile through the HTTP
// surface on reconnect.
package notify

import "context"

type TargetKind string

const (
	TargetRoom TargetKind = "room"
	TargetUser TargetKind = "user"
	TargetRole TargetKind = "role"
	TargetAll  TargetKind = "all"
)

type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
}

func Room(id string) Target   { return Target{Kind: TargetRoom, ID: id} }
func User(id string) Target   { return Target{Kind: TargetUser, ID: id} }
func Role(name string) Target { return Target{Kind: TargetRole, ID: name} }
func Everyone() Target        { return Target{Kind: TargetAll} }

// Key is the stable address string, also used as the partition key so
// events for one target are delivered in publish order.
func (t Target) Key() string {
	if t.Kind == TargetAll {
		return "all"
	}
	return string(t.Kind) + ":" + t.ID
}

// Event is one server->client push. Exclude lists identity ids that must
// not receive it (e.g. the sender of a room message, who gets an ack
// instead).
type Event struct {
	Target  Target   `json:"target"`
	Name    string   `json:"name"`
	Payload any      `json:"payload,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}
