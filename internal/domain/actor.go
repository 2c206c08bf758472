package domain

// Actor is the authenticated identity supplied by the identity service.
// It is trusted as given.
type Actor struct {
	ID   string
	Role string
}

// SystemActor is recorded for transitions driven by provider callbacks and
// background reconciliation.
var SystemActor = Actor{ID: "system", Role: "system"}
