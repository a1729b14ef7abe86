package shared

import "fmt"

// Role identifies the kind of user acting on the system.
type Role string

const (
	RoleManager Role = "MANAGER"
	RoleCasher  Role = "CASHER"
)

// Actor is the authenticated identity a business event is attributed to.
// Which relationship a ledger row ends up carrying (manager vs casher) is
// derived from Role at the write boundary, never stored twice.
type Actor struct {
	ID   int64
	Role Role
}

// Valid reports whether the actor carries a usable identity.
func (a Actor) Valid() bool {
	return a.ID > 0 && (a.Role == RoleManager || a.Role == RoleCasher)
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%d", a.Role, a.ID)
}
