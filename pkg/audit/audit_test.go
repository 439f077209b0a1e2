package audit

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/external"
	"github.com/onchainops/liquidator/pkg/history"
	"github.com/onchainops/liquidator/pkg/poolevents"
	"github.com/onchainops/liquidator/pkg/riskset"
)

// fakeNotifier records every notification handed to it.
type fakeNotifier struct {
	mu  sync.Mutex
	got []external.Notification
	err error
}

func (f *fakeNotifier) Notify(ctx context.Context, n external.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return f.err
}

func (f *fakeNotifier) last() external.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[len(f.got)-1]
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.got)
}

func newTestListener(minDebtUsd1e18 *big.Int) (*AuditListener, *riskset.RiskSet, *history.History, *fakeNotifier) {
	risk := riskset.New()
	attempts := history.New()
	notifier := &fakeNotifier{}
	l := New(Config{MinDebtUsd1e18: minDebtUsd1e18}, risk, attempts, notifier, nil, zap.NewNop())
	return l, risk, attempts, notifier
}

func someUser() domain.Address { return domain.NewAddress(common.HexToAddress("0xaa")) }

func TestClassifyNotInActiveSet(t *testing.T) {
	l, _, _, _ := newTestListener(big.NewInt(100))

	reason, sub := l.Classify(someUser())

	assert.Equal(t, domain.AuditNotInActiveSet, reason)
	assert.Empty(t, sub)
}

func TestClassifyDebtBelowMin(t *testing.T) {
	l, risk, _, _ := newTestListener(big.NewInt(1000))
	user := someUser()
	risk.Upsert(user)
	risk.UpdateHF(user, 1.02, big.NewInt(500), big.NewInt(600), 10)

	reason, _ := l.Classify(user)

	assert.Equal(t, domain.AuditDebtBelowMin, reason)
}

func TestClassifyPricedOut(t *testing.T) {
	l, risk, attempts, _ := newTestListener(big.NewInt(0))
	user := someUser()
	risk.Upsert(user)
	risk.UpdateHF(user, 0.95, big.NewInt(5000), big.NewInt(4000), 10)
	errMsg := "execution reverted: Safety check failed"
	attempts.Record(domain.AttemptRecord{User: user, Status: domain.AttemptError, Error: &errMsg})

	reason, sub := l.Classify(user)

	assert.Equal(t, domain.AuditPricedOut, reason)
	assert.Empty(t, sub)
}

func TestClassifyAttemptFailedOrLatePending(t *testing.T) {
	l, risk, attempts, _ := newTestListener(big.NewInt(0))
	user := someUser()
	risk.Upsert(user)
	risk.UpdateHF(user, 0.9, big.NewInt(5000), big.NewInt(4000), 10)
	attempts.Record(domain.AttemptRecord{User: user, Status: domain.AttemptPending})

	reason, sub := l.Classify(user)

	assert.Equal(t, domain.AuditAttemptFailedOrLate, reason)
	assert.Equal(t, "pending_late_inclusion", sub)
}

func TestClassifyAttemptFailedOrLateReverted(t *testing.T) {
	l, risk, attempts, _ := newTestListener(big.NewInt(0))
	user := someUser()
	risk.Upsert(user)
	risk.UpdateHF(user, 0.9, big.NewInt(5000), big.NewInt(4000), 10)
	attempts.Record(domain.AttemptRecord{User: user, Status: domain.AttemptReverted})

	reason, sub := l.Classify(user)

	assert.Equal(t, domain.AuditAttemptFailedOrLate, reason)
	assert.Empty(t, sub)
}

func TestClassifyHfNeverCrossedExecuteWhenNoAttempt(t *testing.T) {
	l, risk, _, _ := newTestListener(big.NewInt(0))
	user := someUser()
	risk.Upsert(user)
	risk.UpdateHF(user, 0.9, big.NewInt(5000), big.NewInt(4000), 10)

	reason, _ := l.Classify(user)

	assert.Equal(t, domain.AuditHfNeverCrossedExecute, reason)
}

func TestClassifyHfNeverCrossedExecuteWhenLastAttemptIncluded(t *testing.T) {
	l, risk, attempts, _ := newTestListener(big.NewInt(0))
	user := someUser()
	risk.Upsert(user)
	risk.UpdateHF(user, 0.9, big.NewInt(5000), big.NewInt(4000), 10)
	attempts.Record(domain.AttemptRecord{User: user, Status: domain.AttemptIncluded})

	reason, _ := l.Classify(user)

	assert.Equal(t, domain.AuditHfNeverCrossedExecute, reason)
}

func TestHandleNotifiesWithCompetitorTxHash(t *testing.T) {
	l, risk, _, notifier := newTestListener(big.NewInt(0))
	user := someUser()
	risk.Upsert(user)
	risk.UpdateHF(user, 0.9, big.NewInt(5000), big.NewInt(4000), 10)
	txHash := common.HexToHash("0xdeadbeef")

	l.Handle(context.Background(), poolevents.LiquidationObserved{
		User:            user,
		CollateralAsset: domain.NewAddress(common.HexToAddress("0x01")),
		DebtAsset:       domain.NewAddress(common.HexToAddress("0x02")),
		TxHash:          txHash,
	})

	require.Equal(t, 1, notifier.count())
	got := notifier.last()
	assert.Equal(t, external.NotifyAuditReason, got.Kind)
	assert.Equal(t, txHash.Hex(), got.Fields["competitor_tx"])
	assert.Equal(t, string(domain.AuditHfNeverCrossedExecute), got.Fields["reason"])
}

func TestHandleNotifyErrorIsLoggedNotPropagated(t *testing.T) {
	l, risk, _, notifier := newTestListener(big.NewInt(0))
	notifier.err = errors.New("webhook down")
	user := someUser()
	risk.Upsert(user)
	risk.UpdateHF(user, 0.9, big.NewInt(5000), big.NewInt(4000), 10)

	assert.NotPanics(t, func() {
		l.Handle(context.Background(), poolevents.LiquidationObserved{User: user})
	})
}

func TestRunStopsOnContextCancel(t *testing.T) {
	l, _, _, _ := newTestListener(big.NewInt(0))
	ch := make(chan poolevents.LiquidationObserved)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx, ch)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunStopsOnChannelClose(t *testing.T) {
	l, _, _, _ := newTestListener(big.NewInt(0))
	ch := make(chan poolevents.LiquidationObserved)
	close(ch)

	err := l.Run(context.Background(), ch)

	assert.NoError(t, err)
}
