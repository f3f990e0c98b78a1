// Package service starts and stops the bot's long-lived components in a
// declared order.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/allthingslinux/tux/pkg/log"
)

// State is the lifecycle position of a registered service.
type State string

const (
	StateRegistered State = "registered"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateError      State = "error"
)

// Service is one long-lived component. Start must return once the service
// is usable; long-running work belongs in goroutines the service owns and
// tears down in Stop.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Func adapts a pair of functions into a Service.
type Func struct {
	ServiceName string
	OnStart     func(ctx context.Context) error
	OnStop      func(ctx context.Context) error
}

func (f Func) Name() string { return f.ServiceName }

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}

// Manager starts services in registration order and stops them in reverse.
type Manager struct {
	logger *slog.Logger

	mu       sync.Mutex
	services []Service
	states   map[string]State
	started  []Service // successfully started, in start order
}

func NewManager() *Manager {
	return &Manager{
		logger: log.Component("service"),
		states: make(map[string]State),
	}
}

// Register adds a service. Registration order is start order.
func (m *Manager) Register(s Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.states[s.Name()]; dup {
		return fmt.Errorf("service: %q already registered", s.Name())
	}
	m.services = append(m.services, s)
	m.states[s.Name()] = StateRegistered
	return nil
}

// StartAll starts every registered service. On the first failure it stops
// the services already started, in reverse, and returns the error.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	for _, s := range services {
		began := time.Now()
		if err := s.Start(ctx); err != nil {
			m.setState(s.Name(), StateError)
			m.logger.Error("service start failed", "service", s.Name(), "error", err)
			m.StopAll(ctx)
			return fmt.Errorf("service: start %s: %w", s.Name(), err)
		}
		m.mu.Lock()
		m.started = append(m.started, s)
		m.mu.Unlock()
		m.setState(s.Name(), StateRunning)
		m.logger.Info("service started", "service", s.Name(), "took", time.Since(began))
	}
	return nil
}

// StopAll stops the started services in reverse order. Every service gets a
// stop attempt even when an earlier one fails; the first error is returned.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	started := append([]Service(nil), m.started...)
	m.started = nil
	m.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		s := started[i]
		if err := s.Stop(ctx); err != nil {
			m.setState(s.Name(), StateError)
			m.logger.Error("service stop failed", "service", s.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("service: stop %s: %w", s.Name(), err)
			}
			continue
		}
		m.setState(s.Name(), StateStopped)
		m.logger.Info("service stopped", "service", s.Name())
	}
	return firstErr
}

// States returns a snapshot of every service's state.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.states))
	for k, v := range m.states {
		out[k] = v
	}
	return out
}

func (m *Manager) setState(name string, s State) {
	m.mu.Lock()
	m.states[name] = s
	m.mu.Unlock()
}
