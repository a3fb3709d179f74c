package rbac

// Actor identifies who is performing an operation. Services check the
// actor's role against the policy before touching state; handlers never
// enforce on their own.
type Actor struct {
	UserID string
	Role   Role
}

// SystemActor builds an actor for internal automation such as feed
// ingestion.
func SystemActor(id string, role Role) Actor {
	return Actor{UserID: id, Role: role}
}
