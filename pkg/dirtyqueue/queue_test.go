package dirtyqueue

import (
	"testing"

	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/stretchr/testify/assert"
)

func TestTouchIsIdempotent(t *testing.T) {
	q := New()
	addr := domain.ParseAddress("0x0000000000000000000000000000000000000001")
	q.TouchUser(addr)
	q.TouchUser(addr)
	assert.Equal(t, 1, q.PendingUsers())
}

func TestDrainEmptiesSet(t *testing.T) {
	q := New()
	a := domain.ParseAddress("0x0000000000000000000000000000000000000001")
	b := domain.ParseAddress("0x0000000000000000000000000000000000000002")
	q.TouchUser(a)
	q.TouchUser(b)

	drained := q.DrainUsers(0)
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, q.PendingUsers())
}

func TestDrainRespectsLimit(t *testing.T) {
	q := New()
	for i := 1; i <= 5; i++ {
		q.TouchUser(domain.ParseAddress("0x000000000000000000000000000000000000000" + string(rune('0'+i))))
	}
	drained := q.DrainUsers(2)
	assert.Len(t, drained, 2)
	assert.Equal(t, 3, q.PendingUsers())
}

func TestUsersAndReservesAreIndependent(t *testing.T) {
	q := New()
	addr := domain.ParseAddress("0x0000000000000000000000000000000000000001")
	q.TouchReserve(addr)
	assert.Equal(t, 0, q.PendingUsers())
	assert.Equal(t, 1, q.PendingReserves())
}
