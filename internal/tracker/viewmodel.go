package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/lunaroast/brewbox/internal/domain/order"
	"github.com/lunaroast/brewbox/internal/gateway"
)

// DemoAdvanceDelay is how long a demo view model stays pending before
// advancing to preparing on its own.
const DemoAdvanceDelay = 3 * time.Second

// ErrRatingSubmitted is returned by SubmitRating after a successful
// submission; the view model accepts at most one rating per lifetime.
var ErrRatingSubmitted = errors.New("rating already submitted")

// TrackingAPI is the slice of the gateway client the view model consumes:
// the store operations plus rating submission.
type TrackingAPI interface {
	OrderAPI
	SubmitRating(ctx context.Context, orderID string, in gateway.RatingInput) (*gateway.RateOutcome, error)
}

var _ TrackingAPI = (*gateway.Client)(nil)

// Navigator abstracts the device capabilities the tracking screen invokes:
// placing a phone call and opening a maps view.
type Navigator interface {
	Call(phone string)
	OpenMaps(lat, lng float64, label string)
}

// Confirm asks the user to approve an outward action before it runs. A nil
// Confirm approves everything.
type Confirm func(prompt string) bool

// RatingDraft is the in-progress review on the tracking screen.
type RatingDraft struct {
	Taste      int
	Packaging  int
	Timeliness int
	Comment    string
}

// CanSubmit reports whether every dimension has been scored.
func (d RatingDraft) CanSubmit() bool {
	return d.Taste >= 1 && d.Packaging >= 1 && d.Timeliness >= 1
}

// demoSequence is the display cycle for demo mode.
var demoSequence = []order.DisplayStatus{
	order.DisplayPending,
	order.DisplayPreparing,
	order.DisplayDelivering,
	order.DisplayDelivered,
	order.DisplayCompleted,
}

// ViewModel drives the order tracking screen. It renders either a live
// order (backed by a SingleStore) or a demo progression used when no order
// id is available.
type ViewModel struct {
	api     TrackingAPI
	nav     Navigator
	confirm Confirm
	now     func() time.Time

	store *SingleStore

	mu        sync.Mutex
	demoStep  int
	demoTimer *time.Timer
	demo      bool
	draft     RatingDraft
	submitted bool
	closed    bool
}

// ViewModelOption configures a ViewModel.
type ViewModelOption func(*ViewModel)

// WithConfirm sets the confirmation prompt callback.
func WithConfirm(c Confirm) ViewModelOption {
	return func(vm *ViewModel) { vm.confirm = c }
}

// WithClock overrides the clock used for the delivered display window.
func WithClock(now func() time.Time) ViewModelOption {
	return func(vm *ViewModel) { vm.now = now }
}

// NewViewModel creates a live view model tracking the given order.
func NewViewModel(ctx context.Context, api TrackingAPI, orderID string, nav Navigator, opts ...ViewModelOption) *ViewModel {
	vm := &ViewModel{api: api, nav: nav, now: time.Now}
	for _, opt := range opts {
		opt(vm)
	}
	vm.store = NewSingleStore(ctx, api, orderID)
	return vm
}

// NewDemoViewModel creates a view model running the demo progression. It
// starts at pending and advances to preparing on its own after
// DemoAdvanceDelay.
func NewDemoViewModel(nav Navigator, opts ...ViewModelOption) *ViewModel {
	vm := &ViewModel{nav: nav, now: time.Now, demo: true}
	for _, opt := range opts {
		opt(vm)
	}
	vm.demoTimer = time.AfterFunc(DemoAdvanceDelay, func() {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		if !vm.closed && vm.demoStep == 0 {
			vm.demoStep = 1
		}
	})
	return vm
}

// Demo reports whether the view model is running the demo progression.
func (vm *ViewModel) Demo() bool {
	return vm.demo
}

// Display returns the customer-facing status. Live orders map their raw
// status through the delivered window at call time; demo mode returns the
// current demo step.
func (vm *ViewModel) Display() order.DisplayStatus {
	if vm.demo {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		return demoSequence[vm.demoStep]
	}

	snap := vm.store.Snapshot()
	if snap.Data == nil {
		return order.DisplayPending
	}
	return order.MapDisplay(snap.Data.Status, snap.Data.DeliveredAt, vm.now())
}

// AdvanceDemo moves the demo progression one step forward, wrapping back to
// pending after completed. No-op on live view models.
func (vm *ViewModel) AdvanceDemo() {
	if !vm.demo {
		return
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return
	}
	if vm.demoTimer != nil {
		vm.demoTimer.Stop()
		vm.demoTimer = nil
	}
	vm.demoStep = (vm.demoStep + 1) % len(demoSequence)
}

// Order returns the current live order, or nil in demo mode or before the
// first successful fetch.
func (vm *ViewModel) Order() *gateway.Order {
	if vm.demo {
		return nil
	}
	return vm.store.Snapshot().Data
}

// Snapshot returns the underlying store state for live view models. Demo
// view models report a settled, empty snapshot.
func (vm *ViewModel) Snapshot() Snapshot {
	if vm.demo {
		return Snapshot{}
	}
	return vm.store.Snapshot()
}

// Refetch refreshes the live order now. No-op in demo mode.
func (vm *ViewModel) Refetch(ctx context.Context) {
	if vm.demo {
		return
	}
	vm.store.Refetch(ctx)
}

// --- Rating draft ---

// Draft returns the current rating draft.
func (vm *ViewModel) Draft() RatingDraft {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.draft
}

// SetScores updates the three dimension scores. Values outside 1-5 are
// clamped.
func (vm *ViewModel) SetScores(taste, packaging, timeliness int) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.draft.Taste = clampScore(taste)
	vm.draft.Packaging = clampScore(packaging)
	vm.draft.Timeliness = clampScore(timeliness)
}

// SetComment updates the draft comment, truncating input beyond the
// 200-character cap rather than rejecting it.
func (vm *ViewModel) SetComment(comment string) {
	if r := []rune(comment); len(r) > order.CommentMaxLen {
		comment = string(r[:order.CommentMaxLen])
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.draft.Comment = comment
}

// CanSubmitRating reports whether the draft is complete and no rating has
// been submitted yet.
func (vm *ViewModel) CanSubmitRating() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return !vm.submitted && vm.draft.CanSubmit()
}

// SubmitRating submits the draft. At most one submission succeeds per view
// model; a failed submission keeps the draft so the user can retry.
func (vm *ViewModel) SubmitRating(ctx context.Context) (*gateway.RateOutcome, error) {
	vm.mu.Lock()
	if vm.submitted {
		vm.mu.Unlock()
		return nil, ErrRatingSubmitted
	}
	draft := vm.draft
	vm.mu.Unlock()

	if !draft.CanSubmit() {
		return nil, errors.New("rating draft incomplete")
	}
	if vm.demo || vm.store == nil {
		return nil, errors.New("no live order to rate")
	}

	out, err := vm.api.SubmitRating(ctx, vm.store.id, gateway.RatingInput{
		Taste:      draft.Taste,
		Packaging:  draft.Packaging,
		Timeliness: draft.Timeliness,
		Comment:    draft.Comment,
	})
	if err != nil {
		return nil, err
	}

	vm.mu.Lock()
	vm.submitted = true
	vm.mu.Unlock()

	vm.store.Refetch(ctx)
	return out, nil
}

// --- Navigator actions ---

// CallRider asks for confirmation and dials the courier. Returns false when
// there is no rider, no phone number, or the user declined.
func (vm *ViewModel) CallRider() bool {
	o := vm.Order()
	if o == nil || o.Rider == nil || o.Rider.Phone == "" {
		return false
	}
	return vm.call(o.Rider.Phone, fmt.Sprintf("Call rider %s?", o.Rider.Name))
}

// CallMerchant asks for confirmation and dials the shop.
func (vm *ViewModel) CallMerchant() bool {
	o := vm.Order()
	if o == nil || o.Merchant == nil || o.Merchant.Phone == "" {
		return false
	}
	return vm.call(o.Merchant.Phone, fmt.Sprintf("Call %s?", o.Merchant.Name))
}

// OpenMerchantMap asks for confirmation and opens the shop location in the
// maps view.
func (vm *ViewModel) OpenMerchantMap() bool {
	o := vm.Order()
	if o == nil || o.Merchant == nil || o.Merchant.Lat == nil || o.Merchant.Lng == nil {
		return false
	}
	if !vm.approved(fmt.Sprintf("Open %s in maps?", o.Merchant.Name)) {
		return false
	}
	vm.nav.OpenMaps(*o.Merchant.Lat, *o.Merchant.Lng, o.Merchant.Name)
	return true
}

func (vm *ViewModel) call(phone, prompt string) bool {
	if !vm.approved(prompt) {
		return false
	}
	vm.nav.Call(phone)
	return true
}

func (vm *ViewModel) approved(prompt string) bool {
	if vm.confirm == nil {
		return true
	}
	return vm.confirm(prompt)
}

// Close releases the underlying store and timers.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	vm.closed = true
	if vm.demoTimer != nil {
		vm.demoTimer.Stop()
		vm.demoTimer = nil
	}
	vm.mu.Unlock()

	if vm.store != nil {
		vm.store.Close()
	}
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 5 {
		return 5
	}
	return v
}
