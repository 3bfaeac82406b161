package tracker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunaroast/brewbox/internal/domain/order"
	"github.com/lunaroast/brewbox/internal/gateway"
)

type recordingNavigator struct {
	calls []string
	maps  []string
}

func (n *recordingNavigator) Call(phone string) {
	n.calls = append(n.calls, phone)
}

func (n *recordingNavigator) OpenMaps(_, _ float64, label string) {
	n.maps = append(n.maps, label)
}

type ratingAPI struct {
	*fakeAPI
	rateErr error
	rated   []gateway.RatingInput
}

func (a *ratingAPI) SubmitRating(_ context.Context, _ string, in gateway.RatingInput) (*gateway.RateOutcome, error) {
	if a.rateErr != nil {
		return nil, a.rateErr
	}
	a.rated = append(a.rated, in)
	return &gateway.RateOutcome{Overall: 4, BeansEarned: 7}, nil
}

func newRatingAPI() *ratingAPI {
	return &ratingAPI{fakeAPI: newFakeAPI()}
}

func TestViewModelLiveDisplay(t *testing.T) {
	api := newRatingAPI()
	api.set(testOrder("ord-1", order.StatusPending))

	vm := NewViewModel(context.Background(), api, "ord-1", &recordingNavigator{})
	defer vm.Close()

	assert.False(t, vm.Demo())
	assert.Equal(t, order.DisplayPending, vm.Display())

	// Accepted surfaces as preparing after a refresh.
	api.set(testOrder("ord-1", order.StatusAccepted))
	vm.Refetch(context.Background())
	assert.Equal(t, order.DisplayPreparing, vm.Display())
}

func TestViewModelDeliveredWindow(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	deliveredAt := now.Add(-10 * time.Minute)
	o := testOrder("ord-1", order.StatusDelivered)
	o.DeliveredAt = &deliveredAt

	api := newRatingAPI()
	api.set(o)

	vm := NewViewModel(context.Background(), api, "ord-1", &recordingNavigator{},
		WithClock(func() time.Time { return now }))
	defer vm.Close()

	assert.Equal(t, order.DisplayDelivered, vm.Display())

	// Same order, 40 minutes after delivery: the window has lapsed.
	older := now.Add(-40 * time.Minute)
	o2 := testOrder("ord-1", order.StatusDelivered)
	o2.DeliveredAt = &older
	api.set(o2)
	vm.Refetch(context.Background())

	assert.Equal(t, order.DisplayCompleted, vm.Display())
}

func TestViewModelDemoProgression(t *testing.T) {
	vm := NewDemoViewModel(&recordingNavigator{})
	defer vm.Close()

	assert.True(t, vm.Demo())
	assert.Equal(t, order.DisplayPending, vm.Display())
	assert.Nil(t, vm.Order())

	want := []order.DisplayStatus{
		order.DisplayPreparing,
		order.DisplayDelivering,
		order.DisplayDelivered,
		order.DisplayCompleted,
		order.DisplayPending, // wraps around
	}
	for _, w := range want {
		vm.AdvanceDemo()
		assert.Equal(t, w, vm.Display())
	}
}

func TestViewModelDemoAutoAdvance(t *testing.T) {
	vm := NewDemoViewModel(&recordingNavigator{})
	defer vm.Close()

	require.Eventually(t, func() bool {
		return vm.Display() == order.DisplayPreparing
	}, DemoAdvanceDelay+time.Second, 10*time.Millisecond)
}

func TestRatingDraft(t *testing.T) {
	api := newRatingAPI()
	api.set(testOrder("ord-1", order.StatusDelivered))

	vm := NewViewModel(context.Background(), api, "ord-1", &recordingNavigator{})
	defer vm.Close()

	assert.False(t, vm.CanSubmitRating(), "unscored draft cannot submit")

	vm.SetScores(4, 5, 3)
	vm.SetComment("ok")
	assert.True(t, vm.CanSubmitRating())

	out, err := vm.SubmitRating(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, out.BeansEarned)

	require.Len(t, api.rated, 1)
	assert.Equal(t, gateway.RatingInput{Taste: 4, Packaging: 5, Timeliness: 3, Comment: "ok"}, api.rated[0])
}

func TestRatingCommentTruncated(t *testing.T) {
	vm := NewDemoViewModel(&recordingNavigator{})
	defer vm.Close()

	vm.SetComment(strings.Repeat("好", order.CommentMaxLen+50))
	got := vm.Draft().Comment
	assert.Equal(t, order.CommentMaxLen, len([]rune(got)))
}

func TestRatingSubmitAtMostOnce(t *testing.T) {
	api := newRatingAPI()
	api.set(testOrder("ord-1", order.StatusDelivered))

	vm := NewViewModel(context.Background(), api, "ord-1", &recordingNavigator{})
	defer vm.Close()

	vm.SetScores(5, 5, 5)
	_, err := vm.SubmitRating(context.Background())
	require.NoError(t, err)

	_, err = vm.SubmitRating(context.Background())
	assert.ErrorIs(t, err, ErrRatingSubmitted)
	assert.False(t, vm.CanSubmitRating())
	assert.Len(t, api.rated, 1)
}

func TestRatingSubmitFailureKeepsDraft(t *testing.T) {
	api := newRatingAPI()
	api.set(testOrder("ord-1", order.StatusDelivered))
	api.rateErr = errors.New("backend down")

	vm := NewViewModel(context.Background(), api, "ord-1", &recordingNavigator{})
	defer vm.Close()

	vm.SetScores(4, 4, 4)
	_, err := vm.SubmitRating(context.Background())
	require.Error(t, err)

	// The failure leaves the draft intact for a retry.
	assert.True(t, vm.CanSubmitRating())
	assert.Equal(t, RatingDraft{Taste: 4, Packaging: 4, Timeliness: 4}, vm.Draft())

	api.rateErr = nil
	_, err = vm.SubmitRating(context.Background())
	require.NoError(t, err)
}

func TestCallRiderConfirmThenInvoke(t *testing.T) {
	o := testOrder("ord-1", order.StatusPickedUp)
	o.Rider = &gateway.Rider{Name: "Wei", Phone: "555-0101"}

	api := newRatingAPI()
	api.set(o)

	nav := &recordingNavigator{}
	approve := true
	vm := NewViewModel(context.Background(), api, "ord-1", nav,
		WithConfirm(func(string) bool { return approve }))
	defer vm.Close()

	assert.True(t, vm.CallRider())
	assert.Equal(t, []string{"555-0101"}, nav.calls)

	// Declined confirmation never reaches the navigator.
	approve = false
	assert.False(t, vm.CallRider())
	assert.Len(t, nav.calls, 1)
}

func TestCallRiderWithoutRider(t *testing.T) {
	api := newRatingAPI()
	api.set(testOrder("ord-1", order.StatusPending))

	nav := &recordingNavigator{}
	vm := NewViewModel(context.Background(), api, "ord-1", nav)
	defer vm.Close()

	assert.False(t, vm.CallRider())
	assert.Empty(t, nav.calls)
}

func TestOpenMerchantMap(t *testing.T) {
	lat, lng := 31.23, 121.47
	o := testOrder("ord-1", order.StatusAccepted)
	o.Merchant = &gateway.Merchant{Name: "Luna Roast", Lat: &lat, Lng: &lng}

	api := newRatingAPI()
	api.set(o)

	nav := &recordingNavigator{}
	vm := NewViewModel(context.Background(), api, "ord-1", nav)
	defer vm.Close()

	assert.True(t, vm.OpenMerchantMap())
	assert.Equal(t, []string{"Luna Roast"}, nav.maps)
}
