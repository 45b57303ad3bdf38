package securestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	errNotProvisioned     = errors.New("store not provisioned")
	errAlreadyProvisioned = errors.New("store already provisioned")
	errAuthRejected       = errors.New("authorization failed")
	errNoAuthCallback     = errors.New("no auth callback registered")
)

// MemoryCapability is an in-process secure store with the same provisioning, auth and delete
// rules as the TPM device. Objects do not survive the process.
type MemoryCapability struct {
	mu          sync.Mutex
	provisioned bool
	provisions  int
	objects     map[string]memObject

	// Hook, when set, runs before every operation and can inject failures.
	Hook func(op, path string) error
}

type memObject struct {
	policy Policy
	auth   string
	data   []byte
}

func NewMemoryCapability() *MemoryCapability {
	return &MemoryCapability{objects: map[string]memObject{}}
}

// Provisions reports how many times Provision succeeded.
func (m *MemoryCapability) Provisions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.provisions
}

func (m *MemoryCapability) hook(op, path string) error {
	if m.Hook == nil {
		return nil
	}
	return m.Hook(op, path)
}

func (m *MemoryCapability) Open(context.Context) (Session, error) {
	if err := m.hook("open", ""); err != nil {
		return nil, err
	}
	return &memorySession{store: m}, nil
}

type memorySession struct {
	store *MemoryCapability
	cb    AuthCallback
}

func (s *memorySession) SetAuthCallback(cb AuthCallback) error {
	s.cb = cb
	return nil
}

func (s *memorySession) Provision(context.Context) error {
	m := s.store
	if err := m.hook("provision", ""); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.provisioned {
		return errAlreadyProvisioned
	}
	m.provisioned = true
	m.provisions++
	return nil
}

func (s *memorySession) Seal(_ context.Context, path string, policy Policy, auth string, data []byte) error {
	m := s.store
	if err := m.hook("seal", path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.provisioned {
		return errNotProvisioned
	}
	m.objects[path] = memObject{policy: policy, auth: auth, data: append([]byte(nil), data...)}
	return nil
}

func (s *memorySession) Unseal(_ context.Context, path string) ([]byte, error) {
	m := s.store
	if err := m.hook("unseal", path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	obj, ok := m.objects[path]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}

	if s.cb == nil {
		return nil, errNoAuthCallback
	}
	auth, err := s.cb(path, "")
	if err != nil {
		return nil, err
	}
	if auth != obj.auth {
		return nil, errAuthRejected
	}
	return append([]byte(nil), obj.data...), nil
}

func (s *memorySession) Delete(_ context.Context, path string) error {
	m := s.store
	if err := m.hook("delete", path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if path == "/" {
		m.objects = map[string]memObject{}
		m.provisioned = false
		return nil
	}

	prefix := strings.TrimSuffix(path, "/") + "/"
	removed := 0
	for p := range m.objects {
		if p == path || strings.HasPrefix(p, prefix) {
			delete(m.objects, p)
			removed++
		}
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}
	return nil
}

func (s *memorySession) Close() error {
	return s.store.hook("close", "")
}
