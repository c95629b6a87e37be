package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/rahul/novaflow/internal/agent"
	"github.com/rahul/novaflow/internal/governance"
)

var ErrNoGateway = errors.New("no gateway owns chat")

// Multi fans a set of gateways into one: messages and confirmation
// requests are routed to the gateway that owns the chat.
type Multi struct {
	Gateways []Gateway
}

func NewMulti(gws ...Gateway) *Multi {
	return &Multi{Gateways: gws}
}

func (m *Multi) route(chatID string) (Gateway, error) {
	for _, g := range m.Gateways {
		if g.Owns(chatID) {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w %s", ErrNoGateway, chatID)
}

func (m *Multi) Owns(chatID string) bool {
	_, err := m.route(chatID)
	return err == nil
}

func (m *Multi) Send(chatID string, text string) error {
	g, err := m.route(chatID)
	if err != nil {
		return err
	}
	return g.Send(chatID, text)
}

func (m *Multi) Confirm(ctx context.Context, chatID string, step agent.Step, d governance.Decision) (bool, error) {
	g, err := m.route(chatID)
	if err != nil {
		return false, err
	}
	return g.Confirm(ctx, chatID, step, d)
}

// Start runs every gateway and returns the first error. A gateway that
// stops cleanly does not stop the others.
func (m *Multi) Start() error {
	if len(m.Gateways) == 0 {
		return errors.New("no gateways enabled")
	}
	errs := make(chan error, len(m.Gateways))
	var wg sync.WaitGroup
	for _, g := range m.Gateways {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.Start(); err != nil {
				errs <- err
			}
		}()
	}
	go func() {
		wg.Wait()
		close(errs)
	}()
	return <-errs
}

func (m *Multi) Stop() error {
	var errs []error
	for _, g := range m.Gateways {
		if err := g.Stop(); err != nil {
			log.Printf("gateway stop: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
