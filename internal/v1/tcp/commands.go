package tcp

import "github.com/lair-chat/server/internal/v1/command"

// UserID, Username, Deps, Reply, and Close satisfy command.Session, letting
// the shared command.Dispatch routing drive this connection without any
// TCP-specific logic duplicated here.
func (c *conn) UserID() string       { return c.userID }
func (c *conn) Username() string     { return c.username }
func (c *conn) Deps() *command.Deps  { return c.deps }
func (c *conn) Reply(payload []byte) { c.sealAndEnqueue(payload) }
func (c *conn) Close()               { c.nc.Close() }

func (c *conn) dispatchCommand(payload []byte) (fatal bool) {
	return command.Dispatch(c, payload)
}
