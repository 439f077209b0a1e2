package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onchainops/liquidator/internal/util"
	"github.com/onchainops/liquidator/pkg/domain"
)

func TestSubgraphBorrowerIndexConsumesPushedUpdate(t *testing.T) {
	upgrader := websocket.Upgrader{}
	pushed := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		err = conn.WriteJSON(borrowerUpdate{
			Reserve:   domain.ParseAddress("0x01"),
			Borrowers: []domain.Address{domain.ParseAddress("0x02"), domain.ParseAddress("0x03")},
		})
		require.NoError(t, err)
		close(pushed)
		<-r.Context().Done()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	idx := NewSubgraphBorrowerIndex(wsURL, 2*time.Second, util.RealClock{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx) }()

	select {
	case <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a connection to push to")
	}
	assert.Eventually(t, func() bool {
		got, err := idx.GetBorrowers(context.Background(), domain.ParseAddress("0x01"))
		return err == nil && len(got) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestSubgraphBorrowerIndexUnknownReserveReturnsEmpty(t *testing.T) {
	idx := NewSubgraphBorrowerIndex("ws://unused", time.Second, util.RealClock{}, zap.NewNop())
	got, err := idx.GetBorrowers(context.Background(), domain.ParseAddress("0x99"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
