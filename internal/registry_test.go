package internal_test

import (
	"testing"

	"github.com/koopa0/tetris-battle/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registerSession 創建並註冊一場對局，返回對局與兩條輸出通道
func registerSession(t *testing.T, r *internal.Registry) (*internal.Session, *internal.Outbound, *internal.Outbound) {
	t.Helper()

	session := internal.NewSession(playerOne, playerTwo)
	out1 := internal.NewOutbound(8)
	out2 := internal.NewOutbound(8)
	require.NoError(t, r.Register(session, map[string]*internal.Outbound{
		playerOne.ID: out1,
		playerTwo.ID: out2,
	}))
	return session, out1, out2
}

// TestOutbound 測試輸出通道語義
func TestOutbound(t *testing.T) {
	t.Run("send and receive", func(t *testing.T) {
		out := internal.NewOutbound(2)
		assert.True(t, out.Send([]byte("a")))
		assert.Equal(t, []byte("a"), <-out.Ch())
	})

	t.Run("full buffer rejects without blocking", func(t *testing.T) {
		out := internal.NewOutbound(1)
		assert.True(t, out.Send([]byte("a")))
		assert.False(t, out.Send([]byte("b")))
	})

	t.Run("send after close does not panic", func(t *testing.T) {
		out := internal.NewOutbound(2)
		out.Close()
		assert.True(t, out.Closed())
		assert.False(t, out.Send([]byte("a")))
	})

	t.Run("close is idempotent", func(t *testing.T) {
		out := internal.NewOutbound(2)
		out.Close()
		out.Close()
		_, ok := <-out.Ch()
		assert.False(t, ok)
	})
}

// TestRegistry_Register 測試註冊
func TestRegistry_Register(t *testing.T) {
	r := internal.NewRegistry(testLogger())
	session, _, _ := registerSession(t, r)

	t.Run("registered session is retrievable", func(t *testing.T) {
		got, err := r.Get(session.ID)
		require.NoError(t, err)
		assert.Same(t, session, got)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("duplicate registration rejected", func(t *testing.T) {
		err := r.Register(session, nil)
		assert.Error(t, err)
	})

	t.Run("unknown session returns sentinel error", func(t *testing.T) {
		_, err := r.Get("game_999")
		assert.ErrorIs(t, err, internal.ErrSessionNotFound)
	})
}

// TestRegistry_Broadcast 測試廣播扇出
func TestRegistry_Broadcast(t *testing.T) {
	t.Run("each player gets own perspective", func(t *testing.T) {
		r := internal.NewRegistry(testLogger())
		session, out1, out2 := registerSession(t, r)

		r.Broadcast(session.ID)

		status1 := receiveStatus(t, out1)
		status2 := receiveStatus(t, out2)

		// 各自視角：自己在前
		assert.Equal(t, playerOne.ID, status1.PlayerStates[0].PlayerInfo.ID)
		assert.Equal(t, playerTwo.ID, status2.PlayerStates[0].PlayerInfo.ID)
		// 不洩漏對手的下一個方塊
		assert.NotEmpty(t, status1.PlayerStates[0].NextPieceType)
		assert.Empty(t, status1.PlayerStates[1].NextPieceType)
	})

	t.Run("unknown session is no-op", func(t *testing.T) {
		r := internal.NewRegistry(testLogger())
		r.Broadcast("game_999")
	})

	t.Run("closed outbound does not break broadcast", func(t *testing.T) {
		r := internal.NewRegistry(testLogger())
		session, out1, out2 := registerSession(t, r)
		out1.Close()

		r.Broadcast(session.ID)

		// 另一位玩家照常收到
		status := receiveStatus(t, out2)
		assert.Equal(t, session.ID, status.GameID)
	})
}

// TestRegistry_Deregister 測試移除
func TestRegistry_Deregister(t *testing.T) {
	r := internal.NewRegistry(testLogger())
	session, out1, _ := registerSession(t, r)

	outs := r.Deregister(session.ID)

	require.Len(t, outs, 2)
	assert.Same(t, out1, outs[playerOne.ID])
	assert.Equal(t, 0, r.Count())

	_, err := r.Get(session.ID)
	assert.ErrorIs(t, err, internal.ErrSessionNotFound)

	// 重複移除為 no-op
	assert.Nil(t, r.Deregister(session.ID))
}

// TestRegistry_FindByPlayer 測試按玩家查找
func TestRegistry_FindByPlayer(t *testing.T) {
	r := internal.NewRegistry(testLogger())
	session, _, _ := registerSession(t, r)

	assert.Same(t, session, r.FindByPlayer(playerOne.ID))
	assert.Same(t, session, r.FindByPlayer(playerTwo.ID))
	assert.Nil(t, r.FindByPlayer("player_999"))
}

// TestRegistry_CloseAll 測試服務關閉清理
func TestRegistry_CloseAll(t *testing.T) {
	r := internal.NewRegistry(testLogger())
	_, out1, out2 := registerSession(t, r)

	r.CloseAll()

	assert.Equal(t, 0, r.Count())
	assert.True(t, out1.Closed())
	assert.True(t, out2.Closed())
}
