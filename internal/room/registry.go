package room

import (
	"sync"

	"github.com/coder/websocket"

	"github.com/handshake/negotiator/internal/document"
	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/internal/panel"
	"github.com/handshake/negotiator/internal/payment"
	"github.com/handshake/negotiator/internal/profile"
	"github.com/handshake/negotiator/internal/trigger"
	"github.com/handshake/negotiator/internal/verification"
	"github.com/handshake/negotiator/pkg/llm"
	"github.com/handshake/negotiator/pkg/sttprovider"
)

// Deps carries the process-wide singletons every room is built from: the
// composition root constructs these once and hands them to the Registry.
type Deps struct {
	LLM              llm.Provider
	STT              sttprovider.Provider
	Payments         *payment.Executor
	Verification     *verification.Driver
	Panels           *panel.Emitter
	Profiles         *profile.Store
	NegotiationCfg   negotiation.Config
	DefaultKeyword   string
}

// Registry is the process-wide directory of live rooms.
type Registry struct {
	deps Deps

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty Registry wired to deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, rooms: make(map[string]*Room)}
}

// getOrCreate returns the Room for roomID, creating and registering it (with
// a fresh Negotiation Engine, Document Store, and Trigger Detector already
// running) if this is the first member to arrive.
func (reg *Registry) getOrCreate(roomID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if r, ok := reg.rooms[roomID]; ok {
		return r
	}

	r := newRoom(roomID, reg.deps)
	reg.rooms[roomID] = r
	return r
}

// remove drops roomID from the registry, called once its last member leaves.
func (reg *Registry) remove(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, roomID)
}

// Count reports the number of currently live rooms, for diagnostics.
func (reg *Registry) Count() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

func newRoom(id string, deps Deps) *Room {
	r := &Room{
		id:           id,
		llmProvider:  deps.LLM,
		sttProvider:  deps.STT,
		paymentExec:  deps.Payments,
		verifyDriver: deps.Verification,
		panels:       deps.Panels,
		negCfg:       deps.NegotiationCfg,
		members:      make(map[string]*Member),
		audioConns:   make(map[string]*websocket.Conn),
		engine:       negotiation.New(id, deps.NegotiationCfg),
		docs:         document.New(deps.LLM),
	}
	r.detector = trigger.New(deps.LLM, deps.DefaultKeyword)
	// relay stays nil until the second member pairs its two fixed endpoints.

	ctx, cancel := r.backgroundContext()
	r.ctxLocked = ctx
	r.cancel = cancel
	r.detector.Start(ctx, r.onTriggerFire)

	go r.drainNegotiationEvents(ctx)
	go r.drainDocumentEvents(ctx)

	return r
}
