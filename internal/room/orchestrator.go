package room

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/handshake/negotiator/internal/agentdriver"
	"github.com/handshake/negotiator/internal/audiorelay"
	"github.com/handshake/negotiator/internal/bus"
	"github.com/handshake/negotiator/internal/document"
	"github.com/handshake/negotiator/internal/identgrammar"
	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/internal/panel"
	"github.com/handshake/negotiator/internal/payment"
	"github.com/handshake/negotiator/internal/profile"
	"github.com/handshake/negotiator/internal/sttclient"
	"github.com/handshake/negotiator/internal/trigger"
	"github.com/handshake/negotiator/pkg/sttprovider"
)

// backgroundContext creates the room's long-lived context, cancelled on
// teardown; every background goroutine the room owns (detector ticker,
// event drains, per-member STT pumps) derives from it.
func (r *Room) backgroundContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

// Join validates roomID/userID, registers p as the member's profile, starts
// their STT session, and — once the room reaches two members — pairs both
// AgentDrivers onto a shared Bus and Negotiation Engine. Returns
// [ErrRoomFull] if roomID already has two distinct members, [ErrInvalidID]
// if either identifier fails the shared grammar.
func (reg *Registry) Join(ctx context.Context, roomID, userID string, p profile.User) error {
	if !identgrammar.Valid(roomID) || !identgrammar.Valid(userID) {
		return ErrInvalidID
	}

	r := reg.getOrCreate(roomID)
	return r.join(ctx, userID, p)
}

func (r *Room) join(ctx context.Context, userID string, p profile.User) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("room: %s is tearing down", r.id)
	}
	if _, already := r.members[userID]; !already && len(r.members) >= maxMembers {
		r.mu.Unlock()
		return ErrRoomFull
	}
	r.mu.Unlock()

	var stt *sttclient.Client
	if r.sttProvider != nil {
		c, err := sttclient.New(ctx, sttclient.Config{
			Provider: r.sttProvider,
			Stream:   sttprovider.StreamConfig{SampleRate: 16000, Channels: 1, Language: "en"},
		})
		if err != nil {
			return fmt.Errorf("room: start stt for %s: %w", userID, err)
		}
		stt = c
	}

	r.mu.Lock()
	member, existing := r.members[userID]
	if existing {
		// Reconnect: replace the transport-facing piece, keep history.
		if stt != nil {
			if member.STT != nil {
				_ = member.STT.Close()
			}
			member.STT = stt
		}
		member.Profile = p
	} else {
		member = &Member{Profile: p, STT: stt, JoinedAt: time.Now()}
		r.members[userID] = member
		r.order = append(r.order, userID)
	}

	if len(r.members) == maxMembers {
		r.pairLocked()
	}
	members := append([]string(nil), r.order...)
	r.mu.Unlock()

	if stt != nil {
		go r.pumpTranscripts(r.bgCtx(), userID, stt)
	}

	r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindStatus, Payload: map[string]any{
		"event": "membership_changed", "members": members,
	}})
	return nil
}

// bgCtx returns the room's background context. Safe to call concurrently;
// cancel is only ever set once, at construction.
func (r *Room) bgCtx() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctxLocked
}

// pairLocked constructs the shared Bus, AudioRelay, and both AgentDrivers
// once a second member has joined. Must be called with r.mu held.
func (r *Room) pairLocked() {
	if r.agentBus != nil {
		return
	}
	a, b := r.order[0], r.order[1]
	memberA, memberB := r.members[a], r.members[b]

	r.agentBus = bus.New(a, b)
	r.agentBus.Observe(r.onBusMessage)
	r.relay = audiorelay.New(a, b)

	memberA.Driver = agentdriver.New(agentdriver.Deps{
		Profile:           memberA.Profile,
		PeerUserID:        b,
		PeerPayoutAccount: memberB.Profile.PayoutAccountID,
		LLM:               r.llmProvider,
		Bus:               r.agentBus,
		Engine:            r.engine,
		Payments:          r.paymentExec,
		OnPanelMessage:    r.panelFunc(a),
	})
	memberB.Driver = agentdriver.New(agentdriver.Deps{
		Profile:           memberB.Profile,
		PeerUserID:        a,
		PeerPayoutAccount: memberA.Profile.PayoutAccountID,
		LLM:               r.llmProvider,
		Bus:               r.agentBus,
		Engine:            r.engine,
		Payments:          r.paymentExec,
		OnPanelMessage:    r.panelFunc(b),
	})

	go r.drainInbox(a, memberA.Driver, r.agentBus)
	go r.drainInbox(b, memberB.Driver, r.agentBus)
}

// drainInbox feeds bus messages addressed to userID's Driver for as long as
// bus stays the room's active bus (a fresh bus is created for each new
// pairing, so a stale drain just exits once its channel is abandoned).
func (r *Room) drainInbox(userID string, d *agentdriver.Driver, bus *bus.Bus) {
	inbox, err := bus.Inbox(userID)
	if err != nil {
		slog.Error("room: drain inbox", "room", r.id, "user", userID, "err", err)
		return
	}
	for msg := range inbox {
		d.HandleBusMessage(msg)
	}
}

// onBusMessage is the Bus [bus.Observer]: it fans every proposal, counter,
// accept, and reject out to both participants' panels as a `negotiation`
// update. Each driver already drives the shared Negotiation Engine directly
// from its own tool call (see internal/agentdriver/tools.go); observing the
// bus here is for the UI fan-out, not the state machine.
func (r *Room) onBusMessage(msg bus.Message) {
	n, ok := r.engine.Current()
	if !ok {
		return
	}
	r.broadcastToRoom(context.Background(), panel.Message{Panel: panel.KindNegotiation, Payload: n})
}

// onTriggerFire is the Trigger Detector's fire handler: it hands off the
// captured conversation context to both paired AgentDrivers.
func (r *Room) onTriggerFire(ev trigger.Event) {
	r.mu.Lock()
	convo := r.conversationContextLocked()
	var drivers []*agentdriver.Driver
	for _, uid := range r.order {
		if m := r.members[uid]; m != nil && m.Driver != nil {
			drivers = append(drivers, m.Driver)
		}
	}
	r.mu.Unlock()

	tev := agentdriver.TriggerEvent{
		Type: string(ev.Type), SpeakerID: ev.SpeakerID, Confidence: ev.Confidence,
		MatchedText: ev.MatchedText, Role: string(ev.Role), Summary: ev.Summary,
	}
	for _, d := range drivers {
		d.HandleTrigger(tev, convo)
	}

	r.broadcastToRoom(context.Background(), panel.Message{Panel: panel.KindStatus, Payload: map[string]any{
		"event": "trigger_fired", "type": ev.Type, "role": ev.Role,
	}})
}

// drainNegotiationEvents forwards engine transitions to panel subscribers
// and, on agreement, kicks off document generation.
func (r *Room) drainNegotiationEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.engine.Events():
			if !ok {
				return
			}
			r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindNegotiation, Payload: ev.Negotiation})

			if ev.Type == negotiation.EventAgreed {
				r.generateDocument(ctx, ev.Negotiation)
			}
		}
	}
}

// generateDocument derives provider/client party assignment (the
// negotiation's initiator plays provider) and asks the Document Store to
// draft the contract.
func (r *Room) generateDocument(ctx context.Context, n negotiation.Negotiation) {
	providerID, clientID := n.Initiator, n.Responder

	r.mu.Lock()
	convo := r.conversationContextLocked()
	r.mu.Unlock()

	d, err := r.docs.GenerateDocument(ctx, n, providerID, clientID, convo)
	if err != nil {
		slog.Error("room: generate document", "room", r.id, "negotiation", n.ID, "err", err)
		r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindError, Payload: "failed to generate document"})
		return
	}
	r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindDocument, Payload: d})
}

// drainDocumentEvents forwards Document Store events to panels and kicks off
// payment execution once a document reaches fully_signed.
func (r *Room) drainDocumentEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.docs.Events():
			if !ok {
				return
			}
			r.mu.Lock()
			r.currentDocID = ev.Document.ID
			r.mu.Unlock()

			switch ev.Type {
			case document.EventGenerated:
				r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindDocument, Payload: ev.Document})
			case document.EventCompleted:
				r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindDocument, Payload: ev.Document})
				r.executePaymentsForDocument(ctx, ev.Document)
			}
		}
	}
}

// executePaymentsForDocument runs the fully_signed payout step: immediate
// line items transfer to the provider now; escrow/conditional line items get
// a manual-capture hold (the worst-case maximum), whose resulting holdId is
// recorded on the matching milestone so verify_milestone can later capture
// or release it.
func (r *Room) executePaymentsForDocument(ctx context.Context, d document.Document) {
	if r.paymentExec == nil {
		return
	}
	recipient := d.ProviderID

	milestoneByLineItem := make(map[int]document.Milestone, len(d.Milestones))
	for _, m := range d.Milestones {
		milestoneByLineItem[m.LineItemIndex] = m
	}

	for idx, li := range d.Terms.LineItems {
		switch li.Type {
		case negotiation.LineItemImmediate:
			res, err := r.paymentExec.ExecutePayment(ctx, payment.TransferRequest{
				Amount: li.Amount, Currency: d.Terms.Currency, RecipientAccountID: recipient, Description: li.Description,
			})
			if err != nil {
				r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindError, Payload: fmt.Sprintf("payment failed for %q: %v", li.Description, err)})
				continue
			}
			r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindPaymentReceipt, Payload: res})

		case negotiation.LineItemEscrow, negotiation.LineItemConditional:
			hold, err := r.paymentExec.CreateEscrowHold(ctx, payment.HoldRequest{
				Amount: li.Amount, Currency: d.Terms.Currency, RecipientAccountID: recipient, Description: li.Description,
			})
			if err != nil {
				r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindError, Payload: fmt.Sprintf("escrow hold failed for %q: %v", li.Description, err)})
				continue
			}
			if m, ok := milestoneByLineItem[idx]; ok {
				r.docs.AttachEscrowHold(d.ID, m.ID, hold.HoldID)
			}
			r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindExecution, Payload: hold})
		}
	}
}

// pumpTranscripts forwards one member's STT output to the transcript log,
// the Trigger Detector, both paired AgentDrivers, and the room's panels.
func (r *Room) pumpTranscripts(ctx context.Context, userID string, c *sttclient.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-c.Finals():
			if !ok {
				return
			}
			r.handleFinalTranscript(ctx, userID, t.Text)
		case t, ok := <-c.Partials():
			if !ok {
				continue
			}
			r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindTranscript, Payload: map[string]any{
				"speaker": userID, "text": t.Text, "isFinal": false,
			}})
		case err, ok := <-c.Errors():
			if !ok {
				continue
			}
			slog.Error("room: stt session failed permanently", "room", r.id, "user", userID, "err", err)
			r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindError, Payload: "speech-to-text connection lost"})
			return
		}
	}
}

func (r *Room) handleFinalTranscript(ctx context.Context, speakerID, text string) {
	r.mu.Lock()
	r.appendTranscriptLocked(speakerID, text)
	var drivers []*agentdriver.Driver
	for _, uid := range r.order {
		if m := r.members[uid]; m != nil && m.Driver != nil {
			drivers = append(drivers, m.Driver)
		}
	}
	r.mu.Unlock()

	r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindTranscript, Payload: map[string]any{
		"speaker": speakerID, "text": text, "isFinal": true,
	}})

	// detector.Start's onFire only covers the periodic semantic-classifier
	// path; the synchronous keyword path reports its own fire here and must
	// be handed off explicitly.
	if ev, fired := r.detector.HandleFinalTranscript(speakerID, text); fired {
		r.onTriggerFire(ev)
	}

	for _, d := range drivers {
		d.HandleFinalTranscript(speakerID, text)
	}
}

// Leave removes userID from roomID, tearing down their AgentDriver and STT
// session, cancelling any active negotiation with reason peer_left, and
// resetting the Trigger Detector. The room itself is torn down once its
// last member leaves.
func (reg *Registry) Leave(roomID, userID string) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomID]
	reg.mu.Unlock()
	if !ok {
		return
	}

	if r.leave(userID) {
		reg.remove(roomID)
	}
}

func (r *Room) leave(userID string) (empty bool) {
	r.mu.Lock()
	member, ok := r.members[userID]
	if !ok {
		empty = len(r.members) == 0
		r.mu.Unlock()
		return empty
	}
	delete(r.members, userID)
	for i, uid := range r.order {
		if uid == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	if member.Driver != nil {
		member.Driver.Close()
	}
	r.engine.Destroy()
	r.detector.Reset()
	r.agentBus = nil
	r.relay = nil

	empty = len(r.members) == 0
	if empty {
		r.closed = true
	}
	remaining := append([]string(nil), r.order...)
	r.mu.Unlock()

	if member.STT != nil {
		_ = member.STT.Close()
	}

	if empty {
		r.cancel()
	} else {
		r.broadcastToRoom(context.Background(), panel.Message{Panel: panel.KindStatus, Payload: map[string]any{
			"event": "membership_changed", "members": remaining,
		}})
	}
	return empty
}

func (r *Room) panelFunc(userID string) agentdriver.PanelFunc {
	return func(kind, text string) {
		_ = r.panels.Send(context.Background(), userID, panel.Message{Panel: panel.Kind(kind), Payload: text})
	}
}

func (r *Room) broadcastToRoom(ctx context.Context, msg panel.Message) {
	if err := r.panels.Broadcast(ctx, r.id, msg); err != nil {
		slog.Warn("room: panel broadcast failed", "room", r.id, "err", err)
	}
}

// findMilestone looks up milestoneID within the room's current document.
func (r *Room) findMilestone(milestoneID string) (document.Document, document.Milestone, bool) {
	r.mu.Lock()
	docID := r.currentDocID
	r.mu.Unlock()
	if docID == "" {
		return document.Document{}, document.Milestone{}, false
	}

	d, err := r.docs.Get(docID)
	if err != nil {
		return document.Document{}, document.Milestone{}, false
	}
	for _, m := range d.Milestones {
		if m.ID == milestoneID {
			return d, m, true
		}
	}
	return document.Document{}, document.Milestone{}, false
}

// recordMilestoneResult persists a verification-driven milestone update back
// onto the document.
func (r *Room) recordMilestoneResult(documentID string, m document.Milestone) {
	r.docs.UpdateMilestone(documentID, m)
}
