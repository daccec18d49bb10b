package remote

import (
	"sort"
	"sync"
)

type directoryEntry struct {
	socket int32
	actor  *RemoteActor
}

// Directory lists the named service instances nodes advertise, by type.
type Directory struct {
	services map[string][]directoryEntry
	mu       sync.RWMutex
}

func newDirectory() *Directory {
	return &Directory{services: make(map[string][]directoryEntry)}
}

func (d *Directory) register(socket int32, p *RemoteActor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services[p.typeName] = append(d.services[p.typeName], directoryEntry{socket: socket, actor: p})
}

// unregisterSocket drops every service hosted on socket.
func (d *Directory) unregisterSocket(socket int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, entries := range d.services {
		kept := entries[:0]
		for _, e := range entries {
			if e.socket != socket {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(d.services, name)
		} else {
			d.services[name] = kept
		}
	}
}

// Resolve returns the instances of typeName in registration order.
func (d *Directory) Resolve(typeName string) []*RemoteActor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entries := d.services[typeName]
	out := make([]*RemoteActor, len(entries))
	for i, e := range entries {
		out[i] = e.actor
	}
	return out
}

// Members returns the service type names with their instance counts.
func (d *Directory) Members() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]int, len(d.services))
	for k, v := range d.services {
		out[k] = len(v)
	}
	return out
}

// Types returns the advertised service types in sorted order.
func (d *Directory) Types() []string {
	members := d.Members()
	out := make([]string, 0, len(members))
	for k := range members {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
