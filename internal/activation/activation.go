// Package activation implements the leadership-gated activation
// controller: a small finite-state observer over a consensus node's
// stateChange events that starts and stops leader-gated singletons
// exactly once per leadership epoch.
package activation

import (
	"sync"

	"github.com/cortexhq/cortexd/internal/consensus"
	"github.com/cortexhq/cortexd/internal/corectx"
	"github.com/cortexhq/cortexd/internal/telemetry"
)

// Activatable is a leader-gated singleton: the messaging gateway or
// any future subsystem that must run on exactly one node at a time.
type Activatable struct {
	Name       string
	Activate   func()
	Deactivate func()
}

// Controller watches a consensus node's leadership transitions and
// drives every registered Activatable in lockstep with them.
type Controller struct {
	cctx       *corectx.Context
	node       *consensus.Node
	singletons []Activatable

	mu            sync.Mutex
	activatedTerm uint64
	hasActivated  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Controller bound to node's event stream. Call Start
// after registering every singleton.
func New(cctx *corectx.Context, node *consensus.Node, singletons []Activatable) *Controller {
	if cctx == nil {
		cctx = corectx.New()
	}
	return &Controller{cctx: cctx, node: node, singletons: singletons, stopCh: make(chan struct{})}
}

// Start subscribes to the node's event stream and, if this node
// already holds leadership (e.g. after restore from snapshot), issues
// one activation immediately.
func (c *Controller) Start() {
	st := c.node.GetState()
	if st.Role == consensus.RoleLeader {
		c.activateOnce(st.CurrentTerm)
	}

	ch := c.node.Subscribe()
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.stopCh:
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Kind != consensus.EventStateChange {
					continue
				}
				c.onStateChange(ev)
			}
		}
	}()
}

func (c *Controller) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

// onStateChange implements the finite-state transition: moving into
// the leader role activates, moving out of it deactivates, and a
// duplicate leader event within the same term is a no-op (idempotent
// per epoch).
func (c *Controller) onStateChange(ev consensus.Event) {
	if ev.Role == consensus.RoleLeader {
		c.activateOnce(ev.Term)
		return
	}
	c.deactivateIfActive()
}

func (c *Controller) activateOnce(term uint64) {
	c.mu.Lock()
	if c.hasActivated && c.activatedTerm == term {
		c.mu.Unlock()
		return
	}
	c.hasActivated = true
	c.activatedTerm = term
	c.mu.Unlock()

	// Activate/deactivate pairs never overlap because this method and
	// deactivateIfActive both run on the controller's single
	// event-processing goroutine.
	for _, s := range c.singletons {
		s.Activate()
		telemetry.ActivationEventsTotal.WithLabelValues(s.Name, "activate").Inc()
	}
}

func (c *Controller) deactivateIfActive() {
	c.mu.Lock()
	if !c.hasActivated {
		c.mu.Unlock()
		return
	}
	c.hasActivated = false
	c.mu.Unlock()

	for _, s := range c.singletons {
		s.Deactivate()
		telemetry.ActivationEventsTotal.WithLabelValues(s.Name, "deactivate").Inc()
	}
}
