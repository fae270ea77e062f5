// Package room implements the Room Orchestrator: the per-room supervisor
// that owns every other component's lifetime, multiplexes the audio and
// panel WebSocket connections, and wires the negotiation/document/payment
// pipeline together.
package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/handshake/negotiator/internal/agentdriver"
	"github.com/handshake/negotiator/internal/audiorelay"
	"github.com/handshake/negotiator/internal/bus"
	"github.com/handshake/negotiator/internal/document"
	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/internal/panel"
	"github.com/handshake/negotiator/internal/payment"
	"github.com/handshake/negotiator/internal/profile"
	"github.com/handshake/negotiator/internal/sttclient"
	"github.com/handshake/negotiator/internal/trigger"
	"github.com/handshake/negotiator/internal/verification"
	"github.com/handshake/negotiator/pkg/llm"
	"github.com/handshake/negotiator/pkg/sttprovider"
)

// ErrRoomFull is returned by Join when the room already holds two distinct
// members.
var ErrRoomFull = errors.New("room: already has two members")

// ErrInvalidID is returned when a roomId or userId fails the shared
// identifier grammar.
var ErrInvalidID = errors.New("room: invalid identifier")

const maxMembers = 2

// Member is one participant's room-scoped state.
type Member struct {
	Profile profile.User
	STT     *sttclient.Client
	Driver  *agentdriver.Driver
	JoinedAt time.Time
}

// Room is one room's full set of owned components. All mutation happens
// through methods that take mu, so a room never has two goroutines writing
// its state at once.
type Room struct {
	id string

	llmProvider   llm.Provider
	sttProvider   sttprovider.Provider
	paymentExec   *payment.Executor
	verifyDriver  *verification.Driver
	panels        *panel.Emitter
	negCfg        negotiation.Config

	mu       sync.Mutex
	members  map[string]*Member
	order    []string // join order, for deriving proposer/responder pairing
	audioConns map[string]*websocket.Conn // live audio socket per member, for replaced-connection teardown
	engine   *negotiation.Engine
	agentBus *bus.Bus
	docs     *document.Store
	detector *trigger.Detector
	relay    *audiorelay.Relay
	transcript []string // rolling conversation log fed to document generation
	currentDocID string // most recent document generated for this room, for milestone lookup

	ctxLocked context.Context
	cancel    context.CancelFunc
	closed    bool
}

// transcriptTailChars bounds how much conversation history Room retains for
// document generation's trailing-context prompt.
const transcriptTailChars = 4000

func (r *Room) appendTranscriptLocked(speaker, text string) {
	r.transcript = append(r.transcript, speaker+": "+text)
	joined := 0
	for _, line := range r.transcript {
		joined += len(line)
	}
	for joined > transcriptTailChars && len(r.transcript) > 1 {
		joined -= len(r.transcript[0])
		r.transcript = r.transcript[1:]
	}
}

func (r *Room) conversationContextLocked() string {
	var out string
	for i, line := range r.transcript {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}
