package internal_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/tetris-battle/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStress_ConcurrentMatchmaking 測試併發配對
//
// 偶數個玩家同時加入：恰好配成一半的對局，槽位最終為空，
// 沒有玩家被重複配對或遺漏。
func TestStress_ConcurrentMatchmaking(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	m := internal.NewMatchmaker(0, testLogger())

	const numPlayers = 200

	var (
		wg        sync.WaitGroup
		pairCount int32
		seen      sync.Map
	)

	start := time.Now()

	for i := 0; i < numPlayers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			player := internal.PlayerInfo{
				ID:   fmt.Sprintf("player_%03d", id),
				Name: fmt.Sprintf("玩家_%03d", id),
			}
			pair := m.Join(player, internal.NewOutbound(8))
			if pair == nil {
				return
			}

			atomic.AddInt32(&pairCount, 1)
			for _, pid := range pair.Session.PlayerIDs() {
				if _, loaded := seen.LoadOrStore(pid, true); loaded {
					t.Errorf("player %s matched twice", pid)
				}
			}
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	t.Logf("配對壓力測試結果:")
	t.Logf("  玩家數: %d", numPlayers)
	t.Logf("  對局數: %d", pairCount)
	t.Logf("  耗時: %v", duration)

	assert.Equal(t, int32(numPlayers/2), pairCount)
	assert.Empty(t, m.Waiting())
}

// TestStress_ConcurrentActions 測試同一對局的併發動作
//
// 兩個玩家同時狂發動作：不 panic、不競態，
// 終局後所有動作都被拒絕。
func TestStress_ConcurrentActions(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	session := internal.NewSession(playerOne, playerTwo)

	const actionsPerPlayer = 1000

	var wg sync.WaitGroup
	actions := []internal.Action{
		internal.ActionMoveLeft,
		internal.ActionMoveRight,
		internal.ActionRotate,
		internal.ActionSoftDrop,
		internal.ActionHardDrop,
	}

	for _, playerID := range []string{playerOne.ID, playerTwo.ID} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < actionsPerPlayer; i++ {
				_, _ = session.Apply(id, actions[i%len(actions)])
			}
		}(playerID)
	}

	wg.Wait()

	// 這麼多硬降必然早已 top-out
	require.Equal(t, internal.StatusGameOver, session.Status)
	assert.NotEmpty(t, session.WinnerName)

	_, err := session.Apply(playerOne.ID, internal.ActionSoftDrop)
	assert.ErrorIs(t, err, internal.ErrSessionOver)
}

// TestStress_ConcurrentBroadcast 測試廣播與動作並發
func TestStress_ConcurrentBroadcast(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping stress test in short mode")
	}

	r := internal.NewRegistry(testLogger())
	session, _, _ := registerSession(t, r)

	const iterations = 500

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_, _ = session.Apply(playerOne.ID, internal.ActionSoftDrop)
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			r.Broadcast(session.ID)
		}
	}()

	wg.Wait()
}
