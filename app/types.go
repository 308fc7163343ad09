package app

import (
	"github.com/lmnt-app/lockd/parties"
	"github.com/lmnt-app/lockd/store"
	"github.com/lmnt-app/lockd/users"
)

type Lockd struct {
	Store   *store.MemStore
	Users   *users.Repository
	Parties *parties.Repository
	Invites *parties.InviteRegistry
}
