package backend

import (
	"fmt"
	"sync"

	"github.com/molior-deb/molior/common/gerror"
	"github.com/molior-deb/molior/server/services"
)

// Registry holds the build backends compiled into the server, keyed by the
// name the configuration selects them with.
type Registry struct {
	backendByName map[string]services.Backend
	mutex         sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		backendByName: make(map[string]services.Backend),
	}
}

// Register a backend. If a backend with that name is already registered then
// this function will panic.
func (r *Registry) Register(backend services.Backend) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.backendByName[backend.Name()]; ok {
		panic(fmt.Sprintf("Registry: attempt to register backend %q more than once", backend.Name()))
	}

	r.backendByName[backend.Name()] = backend
}

// Get the registered backend by name. If a backend with the specified name
// does not exist an error will be returned.
func (r *Registry) Get(name string) (services.Backend, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	backend, ok := r.backendByName[name]
	if !ok {
		return nil, gerror.NewErrNotFound(fmt.Sprintf("backend %q is not registered", name))
	}
	return backend, nil
}
