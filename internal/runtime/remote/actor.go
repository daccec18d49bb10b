package remote

import "github.com/orizon-lang/ensemble/internal/runtime"

// RemoteActor is the root-side handle of a remote actor. Calls on it are
// routed by its runner: to the node it is bound to, to a node chosen
// round-robin among those supporting its type, or to a local instance when
// no node does.
type RemoteActor struct {
	uuid     string
	typeName string
	root     *Root
	runner   *runtime.Actor
	named    bool

	// owned by runner
	socket    int32
	createdOn int32
	local     *localInstance
}

func newRemoteActor(r *Root, uuid, typeName string) *RemoteActor {
	return &RemoteActor{
		uuid:      uuid,
		typeName:  typeName,
		root:      r,
		runner:    r.m.runner(uuid),
		socket:    socketUnbound,
		createdOn: socketUnbound,
	}
}

// UUID returns the actor identity shared by root and node.
func (p *RemoteActor) UUID() string { return p.uuid }

// Type returns the registered type name.
func (p *RemoteActor) Type() string { return p.typeName }

// Named reports whether the actor is a service a node hosts under a fixed UUID.
func (p *RemoteActor) Named() bool { return p.named }

// Runner returns the actor every call on p is serialized through.
func (p *RemoteActor) Runner() *runtime.Actor { return p.runner }

// Close releases the actor: a node-side instance is destroyed, a local
// fallback instance is dropped. Named services are left running. Calls
// made after Close materialize a fresh instance.
func (p *RemoteActor) Close() {
	if p.named {
		return
	}
	p.runner.Send(func() { p.root.release(p) })
}
