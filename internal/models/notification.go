package models

// ChangeNotification is the payload raised after any committed transition
// that touched a visit-linked table. Delivery to other connected clients is
// handled downstream; this service only publishes it.
type ChangeNotification struct {
	EntityKind    string `json:"entity_kind"`
	EntityID      int64  `json:"entity_id"`
	ActorID       string `json:"actor_id,omitempty"`
	SourceSession string `json:"source_session,omitempty"`
}
