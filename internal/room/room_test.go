package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handshake/negotiator/internal/negotiation"
	"github.com/handshake/negotiator/internal/panel"
	"github.com/handshake/negotiator/internal/payment"
	"github.com/handshake/negotiator/internal/profile"
	llmmock "github.com/handshake/negotiator/pkg/llm/mock"
	paymentmock "github.com/handshake/negotiator/pkg/paymentprovider/mock"
	sttmock "github.com/handshake/negotiator/pkg/sttprovider/mock"
)

// fakeSocket records every message written to it, satisfying [panel.Socket]
// without opening a real network connection.
type fakeSocket struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (f *fakeSocket) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeSocket) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testDeps() Deps {
	return Deps{
		LLM:            llmmock.New(),
		STT:            sttmock.New(),
		Payments:       payment.New(paymentmock.New()),
		Panels:         panel.New(),
		Profiles:       profile.NewStore(),
		NegotiationCfg: negotiation.Config{MaxRounds: 5, RoundTimeout: time.Minute, TotalTimeout: 5 * time.Minute},
		DefaultKeyword: "handshake",
	}
}

func TestJoin_FirstMemberDoesNotPair(t *testing.T) {
	reg := NewRegistry(testDeps())
	err := reg.Join(context.Background(), "room1", "alice", profile.User{UserID: "alice"})
	require.NoError(t, err)

	r := reg.getOrCreate("room1")
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.members, 1)
	assert.Nil(t, r.agentBus)
	assert.Nil(t, r.members["alice"].Driver)
}

func TestJoin_SecondMemberPairsAgents(t *testing.T) {
	reg := NewRegistry(testDeps())
	ctx := context.Background()
	require.NoError(t, reg.Join(ctx, "room1", "alice", profile.User{UserID: "alice"}))
	require.NoError(t, reg.Join(ctx, "room1", "bob", profile.User{UserID: "bob"}))

	r := reg.getOrCreate("room1")
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.members, 2)
	require.NotNil(t, r.agentBus)
	require.NotNil(t, r.relay)
	assert.NotNil(t, r.members["alice"].Driver)
	assert.NotNil(t, r.members["bob"].Driver)
}

func TestJoin_ThirdMemberRejected(t *testing.T) {
	reg := NewRegistry(testDeps())
	ctx := context.Background()
	require.NoError(t, reg.Join(ctx, "room1", "alice", profile.User{UserID: "alice"}))
	require.NoError(t, reg.Join(ctx, "room1", "bob", profile.User{UserID: "bob"}))

	err := reg.Join(ctx, "room1", "carol", profile.User{UserID: "carol"})
	assert.ErrorIs(t, err, ErrRoomFull)
}

func TestJoin_InvalidIdentifierRejected(t *testing.T) {
	reg := NewRegistry(testDeps())
	err := reg.Join(context.Background(), "room 1", "alice", profile.User{UserID: "alice"})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestLeave_LastMemberTearsDownRoom(t *testing.T) {
	reg := NewRegistry(testDeps())
	ctx := context.Background()
	require.NoError(t, reg.Join(ctx, "room1", "alice", profile.User{UserID: "alice"}))

	reg.Leave("room1", "alice")

	reg.mu.Lock()
	_, stillPresent := reg.rooms["room1"]
	reg.mu.Unlock()
	assert.False(t, stillPresent)
}

func TestLeave_OneOfTwoKeepsRoomAlive(t *testing.T) {
	reg := NewRegistry(testDeps())
	ctx := context.Background()
	require.NoError(t, reg.Join(ctx, "room1", "alice", profile.User{UserID: "alice"}))
	require.NoError(t, reg.Join(ctx, "room1", "bob", profile.User{UserID: "bob"}))

	reg.Leave("room1", "alice")

	r := reg.getOrCreate("room1")
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.members, 1)
	_, aliceStillThere := r.members["alice"]
	assert.False(t, aliceStillThere)
	assert.Nil(t, r.agentBus, "pairing must be torn down once below two members")
}

func TestFindMilestone_UnknownReturnsFalse(t *testing.T) {
	reg := NewRegistry(testDeps())
	r := reg.getOrCreate("room1")
	_, _, ok := r.findMilestone("nonexistent")
	assert.False(t, ok)
}

func TestBroadcastToRoom_DeliversToRegisteredSocket(t *testing.T) {
	deps := testDeps()
	reg := NewRegistry(deps)
	ctx := context.Background()
	require.NoError(t, reg.Join(ctx, "room1", "alice", profile.User{UserID: "alice"}))

	sock := &fakeSocket{}
	deps.Panels.Register("room1", "alice", sock)

	r := reg.getOrCreate("room1")
	r.broadcastToRoom(ctx, panel.Message{Panel: panel.KindStatus, Payload: "hello"})

	sock.mu.Lock()
	defer sock.mu.Unlock()
	assert.NotEmpty(t, sock.written)
}
