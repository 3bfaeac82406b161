package order

import "time"

// DisplayStatus is the five-step presentation state derived from the
// persisted status. It drives the tracking page's step indicator and the
// live/history split on the orders overview.
type DisplayStatus string

const (
	DisplayPending    DisplayStatus = "pending"
	DisplayPreparing  DisplayStatus = "preparing"
	DisplayDelivering DisplayStatus = "delivering"
	DisplayDelivered  DisplayStatus = "delivered"
	DisplayCompleted  DisplayStatus = "completed"
)

// DeliveredWindow is how long a delivered order keeps showing live
// "delivered" UI (rating prompt etc.) before folding into completed.
// Presentational deadline only; the server never reads it.
const DeliveredWindow = 30 * time.Minute

// MapDisplay maps a raw persisted status to its display state. A delivered
// order stays in the delivered state while now-deliveredAt < DeliveredWindow;
// at exactly the window boundary it counts as completed. Unrecognized
// statuses fall open to the earliest visual state instead of failing the
// view. Callers must re-evaluate per render: the result depends on now.
func MapDisplay(raw Status, deliveredAt *time.Time, now time.Time) DisplayStatus {
	switch raw {
	case StatusPending:
		return DisplayPending
	case StatusAccepted:
		return DisplayPreparing
	case StatusRiderAssigned, StatusPickedUp:
		return DisplayDelivering
	case StatusDelivered:
		if deliveredAt != nil && now.Sub(*deliveredAt) < DeliveredWindow {
			return DisplayDelivered
		}
		return DisplayCompleted
	case StatusRated, StatusCancelled:
		return DisplayCompleted
	default:
		return DisplayPending
	}
}
