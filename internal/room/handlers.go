package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/handshake/negotiator/internal/audiorelay"
	"github.com/handshake/negotiator/internal/identgrammar"
	"github.com/handshake/negotiator/internal/panel"
	"github.com/handshake/negotiator/internal/profile"
)

// audioBackpressureBytes caps how much unframed audio a single socket read
// loop will accept per message before dropping it.
const audioBackpressureBytes = 960_000

// Handler builds the HTTP mux serving this Registry's external interfaces:
// health, escrow release, and the audio/panel WebSocket upgrades.
func (reg *Registry) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", reg.handleHealth)
	mux.HandleFunc("POST /api/release-escrow", reg.handleReleaseEscrow)
	mux.HandleFunc("GET /ws/audio", reg.handleAudioWS)
	mux.HandleFunc("GET /ws/panels", reg.handlePanelsWS)
	return mux
}

func (reg *Registry) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type releaseEscrowRequest struct {
	PaymentIntentID string `json:"paymentIntentId"`
	Amount          *int64 `json:"amount,omitempty"`
}

// handleReleaseEscrow captures (fully, or for the given amount) the escrow
// hold behind a provider payment intent ID. Despite the route name, this
// captures funds rather than releasing the authorization unconditionally.
func (reg *Registry) handleReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	var req releaseEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PaymentIntentID == "" {
		http.Error(w, `{"error":"paymentIntentId is required"}`, http.StatusBadRequest)
		return
	}

	hold, err := reg.deps.Payments.CaptureEscrowByPaymentIntent(r.Context(), req.PaymentIntentID, req.Amount)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(hold)
}

func rejectWS(w http.ResponseWriter, r *http.Request, code int, reason string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	_ = conn.Close(websocket.StatusCode(code), reason)
}

// handleAudioWS upgrades to a binary PCM WebSocket for one room member,
// forwarding inbound audio to that member's STT session and to the
// AudioRelay for the peer to hear, and relaying audio the peer forwarded
// back out.
func (reg *Registry) handleAudioWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	userID := r.URL.Query().Get("user")
	if !identgrammar.Valid(roomID) || !identgrammar.Valid(userID) {
		rejectWS(w, r, 4000, "bad params")
		return
	}

	rm := reg.roomOf(roomID)
	if rm == nil {
		rejectWS(w, r, 4001, "unknown room")
		return
	}

	rm.mu.Lock()
	member, inRoom := rm.members[userID]
	relay := rm.relay
	rm.mu.Unlock()
	if !inRoom {
		rejectWS(w, r, 4004, "not in room")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	rm.mu.Lock()
	prior := rm.audioConns[userID]
	rm.audioConns[userID] = conn
	rm.mu.Unlock()
	if prior != nil {
		_ = prior.Close(websocket.StatusCode(4002), "replaced")
	}
	defer func() {
		rm.mu.Lock()
		if rm.audioConns[userID] == conn {
			delete(rm.audioConns, userID)
		}
		rm.mu.Unlock()
	}()

	ctx := r.Context()
	if relay != nil {
		relay.SetSink(userID, func(frame audiorelay.Frame) {
			_ = conn.Write(ctx, websocket.MessageBinary, frame.Data)
		})
		defer relay.ClearSink(userID)
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary || len(data) > audioBackpressureBytes {
			continue
		}
		if member.STT != nil {
			_ = member.STT.SendAudio(data)
		}
		if relay != nil {
			relay.Forward(userID, audiorelay.Frame{SpeakerID: userID, Data: data})
		}
	}
}

// panelClientMessage is the tagged-union envelope for client-to-server panel
// actions.
type panelClientMessage struct {
	Action string `json:"action"`

	Profile *profile.User `json:"profile,omitempty"` // set_profile

	Keyword string `json:"keyword,omitempty"` // set_trigger_keyword

	DocumentID string `json:"documentId,omitempty"` // sign_document

	MilestoneID string `json:"milestoneId,omitempty"` // confirm/propose/approve/verify_milestone, release_escrow
	Amount      *int64 `json:"amount,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"` // verify_milestone

	HoldID string `json:"holdId,omitempty"` // release_escrow
}

// handlePanelsWS upgrades to a JSON WebSocket carrying panel state fan-out
// and the client action dispatch table.
func (reg *Registry) handlePanelsWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	userID := r.URL.Query().Get("user")
	if !identgrammar.Valid(roomID) || !identgrammar.Valid(userID) {
		rejectWS(w, r, 4000, "bad params")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	reg.deps.Panels.Register(roomID, userID, conn)
	defer reg.deps.Panels.Unregister(userID, conn)

	ctx := r.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var msg panelClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindError, Payload: "malformed message"})
			continue
		}

		reg.dispatchPanelMessage(ctx, roomID, userID, msg)
	}
}

// dispatchPanelMessage routes one decoded client action to the matching
// room/document/payment/verification operation.
func (reg *Registry) dispatchPanelMessage(ctx context.Context, roomID, userID string, msg panelClientMessage) {
	switch msg.Action {
	case "set_profile":
		if msg.Profile != nil {
			p := *msg.Profile
			p.UserID = userID
			if err := reg.deps.Profiles.Set(p); err != nil {
				_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindError, Payload: err.Error()})
			}
		}

	case "join_room":
		p := reg.deps.Profiles.GetOrDefault(userID)
		if err := reg.Join(ctx, roomID, userID, p); err != nil {
			_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindError, Payload: err.Error()})
		}

	case "set_trigger_keyword":
		if rm := reg.roomOf(roomID); rm != nil && msg.Keyword != "" {
			rm.detector.SetKeyword(msg.Keyword)
		}

	case "sign_document":
		rm := reg.roomOf(roomID)
		if rm == nil {
			return
		}
		d, err := rm.docs.Sign(msg.DocumentID, userID)
		if err != nil {
			_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindError, Payload: err.Error()})
			return
		}
		rm.broadcastToRoom(ctx, panel.Message{Panel: panel.KindDocument, Payload: d})

	case "propose_milestone_amount", "approve_milestone_amount", "confirm_milestone":
		// These three negotiate the exact capture amount for a ranged escrow
		// milestone ahead of verify_milestone; the milestone's
		// completionCriteria / recommendedAmount trail produced by
		// verify_milestone is authoritative for the actual capture, so these
		// are acknowledged on the milestone panel but do not themselves move
		// funds.
		_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindMilestone, Payload: map[string]any{
			"action": msg.Action, "milestoneId": msg.MilestoneID, "amount": msg.Amount,
		}})

	case "release_escrow":
		holdID := msg.HoldID
		if holdID == "" && msg.MilestoneID != "" {
			if rm := reg.roomOf(roomID); rm != nil {
				if _, m, ok := rm.findMilestone(msg.MilestoneID); ok {
					holdID = m.EscrowHoldID
				}
			}
		}
		if holdID == "" {
			_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindError, Payload: "milestoneId with an escrow hold, or holdId, is required"})
			return
		}
		hold, err := reg.deps.Payments.ReleaseEscrow(ctx, holdID)
		if err != nil {
			_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindError, Payload: err.Error()})
			return
		}
		if rm := reg.roomOf(roomID); rm != nil {
			rm.broadcastToRoom(ctx, panel.Message{Panel: panel.KindExecution, Payload: hold})
		}

	case "verify_milestone":
		reg.runVerification(ctx, roomID, userID, msg)

	default:
		_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindError, Payload: "unknown action"})
	}
}

func (reg *Registry) roomOf(roomID string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rooms[roomID]
}

// runVerification looks up the named milestone's document and line item and
// runs the Verification Driver. The release_escrow panel action is
// unconditional (it does not require a prior verification pass) —
// verify_milestone is the path that additionally applies a verdict-driven
// capture or release.
func (reg *Registry) runVerification(ctx context.Context, roomID, userID string, msg panelClientMessage) {
	rm := reg.roomOf(roomID)
	if rm == nil || reg.deps.Verification == nil {
		return
	}

	d, m, ok := rm.findMilestone(msg.MilestoneID)
	if !ok {
		_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindError, Payload: "unknown milestone"})
		return
	}
	lineItem := d.Terms.LineItems[m.LineItemIndex]

	updated, verdict, err := reg.deps.Verification.Verify(ctx, m, lineItem, msg.PhoneNumber, func(step, message string) {
		_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindVerification, Payload: map[string]string{
			"step": step, "message": message,
		}})
	})
	if err != nil {
		_ = reg.deps.Panels.Send(ctx, userID, panel.Message{Panel: panel.KindError, Payload: err.Error()})
		return
	}

	rm.recordMilestoneResult(d.ID, updated)
	slog.Info("room: milestone verified", "room", roomID, "milestone", m.ID, "status", verdict.Status)
	rm.broadcastToRoom(ctx, panel.Message{Panel: panel.KindVerification, Payload: verdict})
}
