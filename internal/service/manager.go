package service

import (
	"context"
	"fmt"
	"sync"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// Service is one startable component with a lifecycle.
type Service interface {
	Start(ctx context.Context) error
	Stop()
}

// named pairs a service with its registration name.
type named struct {
	name string
	svc  Service
}

// Manager starts registered services in order and stops them in reverse.
type Manager struct {
	mu       sync.Mutex
	services []named
	running  bool
	log      waLog.Logger
}

// NewManager creates a service manager.
func NewManager(log waLog.Logger) *Manager {
	return &Manager{log: log.Sub("Services")}
}

// Register adds a service. Registration order is start order.
func (m *Manager) Register(name string, svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, named{name: name, svc: svc})
}

// StartAll starts every registered service. On failure the already
// started ones are stopped in reverse before the error returns.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	started := make([]named, 0, len(m.services))
	for _, s := range m.services {
		if err := s.svc.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].svc.Stop()
			}
			return fmt.Errorf("failed to start %s: %w", s.name, err)
		}
		m.log.Infof("Started %s", s.name)
		started = append(started, s)
	}
	m.running = true
	return nil
}

// StopAll stops every service in reverse registration order.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	for i := len(m.services) - 1; i >= 0; i-- {
		m.services[i].svc.Stop()
		m.log.Infof("Stopped %s", m.services[i].name)
	}
	m.running = false
}
