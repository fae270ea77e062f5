// Package panel implements the Panel Emitter: a per-user JSON message sink
// fanning out to each participant's panel WebSocket, plus room-scoped
// broadcast. Socket replacement for the same user closes the prior socket
// with a "replaced" reason rather than silently orphaning it.
package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

// Kind discriminates the panel message types a server pushes to a client.
type Kind string

const (
	KindTranscript     Kind = "transcript"
	KindAgent          Kind = "agent"
	KindNegotiation    Kind = "negotiation"
	KindDocument       Kind = "document"
	KindMilestone      Kind = "milestone"
	KindExecution      Kind = "execution"
	KindPaymentReceipt Kind = "payment_receipt"
	KindVerification   Kind = "verification"
	KindStatus         Kind = "status"
	KindError          Kind = "error"
)

// Message is the server-to-client envelope. Payload is marshaled alongside
// the discriminator field so clients can switch on Panel before decoding
// the rest.
type Message struct {
	Panel   Kind `json:"panel"`
	Payload any  `json:"payload,omitempty"`
}

// Socket is the minimal surface panel needs from a client connection,
// satisfied by *websocket.Conn in production and a fake in tests.
type Socket interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

type subscriber struct {
	roomID string
	sock   Socket
}

// Emitter is a process-wide registry of per-user panel sockets.
type Emitter struct {
	mu    sync.Mutex
	byUser map[string]*subscriber
	rooms  map[string]map[string]struct{} // roomID -> set of userIDs
}

// New creates an empty Emitter.
func New() *Emitter {
	return &Emitter{
		byUser: make(map[string]*subscriber),
		rooms:  make(map[string]map[string]struct{}),
	}
}

// Register attaches sock as userID's panel socket within roomID. Any prior
// socket for userID is closed with reason "replaced".
func (e *Emitter) Register(roomID, userID string, sock Socket) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prior, ok := e.byUser[userID]; ok && prior.sock != nil {
		_ = prior.sock.Close(websocket.StatusNormalClosure, "replaced")
	}

	e.byUser[userID] = &subscriber{roomID: roomID, sock: sock}
	if e.rooms[roomID] == nil {
		e.rooms[roomID] = make(map[string]struct{})
	}
	e.rooms[roomID][userID] = struct{}{}
}

// Unregister removes userID's socket, if it is still the one registered
// (sock is compared by identity so a late Unregister from a replaced socket
// does not clobber its successor).
func (e *Emitter) Unregister(userID string, sock Socket) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub, ok := e.byUser[userID]
	if !ok || sub.sock != sock {
		return
	}
	delete(e.byUser, userID)
	if members, ok := e.rooms[sub.roomID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(e.rooms, sub.roomID)
		}
	}
}

// Send writes msg to userID's socket. A no-op, not an error, if the user has
// no open socket: panel delivery is best-effort.
func (e *Emitter) Send(ctx context.Context, userID string, msg Message) error {
	e.mu.Lock()
	sub, ok := e.byUser[userID]
	e.mu.Unlock()
	if !ok || sub.sock == nil {
		return nil
	}
	return writeJSON(ctx, sub.sock, msg)
}

// Broadcast writes msg to every subscriber currently registered under
// roomID. Individual write failures are collected but do not stop delivery
// to the other subscribers.
func (e *Emitter) Broadcast(ctx context.Context, roomID string, msg Message) error {
	e.mu.Lock()
	members := make([]*subscriber, 0, len(e.rooms[roomID]))
	for userID := range e.rooms[roomID] {
		if sub, ok := e.byUser[userID]; ok {
			members = append(members, sub)
		}
	}
	e.mu.Unlock()

	var errs []error
	for _, sub := range members {
		if sub.sock == nil {
			continue
		}
		if err := writeJSON(ctx, sub.sock, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	joined := errs[0]
	for _, werr := range errs[1:] {
		joined = fmt.Errorf("%w; %w", joined, werr)
	}
	return fmt.Errorf("panel: broadcast to room %s: %w", roomID, joined)
}

func writeJSON(ctx context.Context, sock Socket, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("panel: marshal message: %w", err)
	}
	if err := sock.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("panel: write: %w", err)
	}
	return nil
}
