package external

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/onchainops/liquidator/internal/util"
	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/domain"
)

// SubgraphBorrowerIndex is the concrete BorrowerIndex (spec §6.D): a raw
// reconnecting WebSocket client, independent of the chain RPC connection,
// that keeps a live per-reserve borrower set pushed by an indexing
// subgraph. Reuses spec §5's reconnect/heartbeat policy generically (the
// same chain.ReconnectPolicy/HeartbeatMonitor the pool event and price feed
// listeners use), demonstrating that policy isn't chain-RPC-specific.
type SubgraphBorrowerIndex struct {
	url              string
	heartbeatTimeout time.Duration
	clock            util.Clock
	log              *zap.Logger

	mu        sync.RWMutex
	borrowers map[domain.Address][]domain.Address
}

func NewSubgraphBorrowerIndex(url string, heartbeatTimeout time.Duration, clock util.Clock, log *zap.Logger) *SubgraphBorrowerIndex {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}
	return &SubgraphBorrowerIndex{
		url:              url,
		heartbeatTimeout: heartbeatTimeout,
		clock:            clock,
		log:              log,
		borrowers:        make(map[domain.Address][]domain.Address),
	}
}

// borrowerUpdate is one push frame from the subgraph: the full, current
// borrower set for one reserve.
type borrowerUpdate struct {
	Reserve   domain.Address   `json:"reserve"`
	Borrowers []domain.Address `json:"borrowers"`
}

// Run dials the subgraph's WS endpoint and keeps the borrower cache fresh
// until ctx is cancelled, reconnecting with the same exponential-backoff
// policy the on-chain listeners use (spec §5).
func (s *SubgraphBorrowerIndex) Run(ctx context.Context) error {
	policy := chain.DefaultReconnectPolicy(s.clock)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		var conn *websocket.Conn
		err := policy.Reconnect(ctx, s.log, func(ctx context.Context) error {
			c, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
			if err != nil {
				return err
			}
			conn = c
			return nil
		})
		if err != nil {
			return err
		}

		hb := chain.NewHeartbeatMonitor(s.heartbeatTimeout, s.clock)
		disconnected := s.consume(ctx, conn, hb)
		conn.Close()
		if disconnected == nil {
			return nil
		}
		s.log.Warn("external: subgraph borrower index disconnected, reconnecting", zap.Error(disconnected))
	}
}

func (s *SubgraphBorrowerIndex) consume(ctx context.Context, conn *websocket.Conn, hb *chain.HeartbeatMonitor) error {
	watchDone := make(chan error, 1)
	go func() { watchDone <- hb.Watch(ctx) }()

	updates := make(chan borrowerUpdate, 64)
	readDone := make(chan error, 1)
	go func() {
		for {
			var upd borrowerUpdate
			if err := conn.ReadJSON(&upd); err != nil {
				readDone <- err
				return
			}
			select {
			case updates <- upd:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchDone:
			return err
		case err := <-readDone:
			return err
		case upd := <-updates:
			hb.Pulse()
			s.mu.Lock()
			s.borrowers[upd.Reserve] = upd.Borrowers
			s.mu.Unlock()
		}
	}
}

// GetBorrowers returns the last pushed borrower set for reserve, or an
// empty slice if the subgraph hasn't sent one yet.
func (s *SubgraphBorrowerIndex) GetBorrowers(ctx context.Context, reserve domain.Address) ([]domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Address(nil), s.borrowers[reserve]...), nil
}
