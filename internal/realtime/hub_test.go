package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHub_PublishMatchesFilter(t *testing.T) {
	h := NewHub(zap.NewNop(), 4)

	all, cancelAll := h.Subscribe(Filter{Table: TableOrders, UserID: "u1"})
	defer cancelAll()
	one, cancelOne := h.Subscribe(Filter{Table: TableOrders, UserID: "u1", OrderID: "o1"})
	defer cancelOne()

	h.OrderChanged("o1", "u1", "UPDATE")
	h.OrderChanged("o2", "u1", "UPDATE")
	h.OrderChanged("o3", "u2", "INSERT")

	// The unscoped subscriber sees both of u1's orders, none of u2's.
	c := <-all
	assert.Equal(t, "o1", c.OrderID)
	c = <-all
	assert.Equal(t, "o2", c.OrderID)
	select {
	case c = <-all:
		t.Fatalf("unexpected change for %s", c.OrderID)
	default:
	}

	// The order-scoped subscriber sees only o1.
	c = <-one
	assert.Equal(t, "o1", c.OrderID)
	assert.Equal(t, "UPDATE", c.Event)
	select {
	case c = <-one:
		t.Fatalf("unexpected change for %s", c.OrderID)
	default:
	}
}

func TestHub_CancelIsDeterministic(t *testing.T) {
	h := NewHub(zap.NewNop(), 4)

	ch, cancel := h.Subscribe(Filter{Table: TableOrders})
	require.Equal(t, 1, h.SubscriberCount())

	cancel()
	assert.Equal(t, 0, h.SubscriberCount())

	// No sends after cancel: publishing must not panic and the channel is
	// closed so a pending reader unblocks.
	h.OrderChanged("o1", "u1", "UPDATE")
	_, ok := <-ch
	assert.False(t, ok)

	// cancel is idempotent.
	cancel()
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	h := NewHub(zap.NewNop(), 1)

	ch, cancel := h.Subscribe(Filter{Table: TableOrders})
	defer cancel()

	// First change fills the buffer; the second overflows it and the
	// subscriber is dropped with its channel closed.
	h.OrderChanged("o1", "u1", "UPDATE")
	h.OrderChanged("o2", "u1", "UPDATE")

	assert.Equal(t, 0, h.SubscriberCount())

	c, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, "o1", c.OrderID)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestHub_ChangeTimestampDefaulted(t *testing.T) {
	h := NewHub(zap.NewNop(), 1)

	ch, cancel := h.Subscribe(Filter{})
	defer cancel()

	h.Publish(Change{Table: TableOrders, Event: "INSERT", OrderID: "o1", UserID: "u1"})
	c := <-ch
	assert.False(t, c.At.IsZero())
}
