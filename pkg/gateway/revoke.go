package gateway

// RevokeMode tells which of the three result shapes a RevokeResult holds.
type RevokeMode int

const (
	// RevokeAll: no ids were passed; Items lists every order the venue tried to cancel.
	RevokeAll RevokeMode = iota
	// RevokeOne: a single id was passed; OrderNo echoes it and the call's error is the outcome.
	RevokeOne
	// RevokeMany: several ids were passed; Items has one entry per id in request order.
	RevokeMany
)

type RevokeItem struct {
	OrderNo string
	Err     error
}

type RevokeResult struct {
	Mode    RevokeMode
	OrderNo string
	Items   []RevokeItem
}

// RevokedAll builds a RevokeAll result. Items is never nil.
func RevokedAll(items []RevokeItem) RevokeResult {
	if items == nil {
		items = []RevokeItem{}
	}
	return RevokeResult{Mode: RevokeAll, Items: items}
}

func RevokedOne(orderNo string) RevokeResult {
	return RevokeResult{Mode: RevokeOne, OrderNo: orderNo}
}

// RevokedMany builds a RevokeMany result. Items is never nil.
func RevokedMany(items []RevokeItem) RevokeResult {
	if items == nil {
		items = []RevokeItem{}
	}
	return RevokeResult{Mode: RevokeMany, Items: items}
}

// Revoke dispatches orderNos to the right primitive and assembles the result
// shape. Venues supply cancelAll and cancelOne; the shape logic lives here so
// every implementation agrees on it.
func Revoke(orderNos []string, cancelAll func() ([]RevokeItem, error), cancelOne func(orderNo string) error) (RevokeResult, error) {
	switch len(orderNos) {
	case 0:
		items, err := cancelAll()
		if err != nil {
			return RevokedAll(nil), err
		}
		return RevokedAll(items), nil
	case 1:
		return RevokedOne(orderNos[0]), cancelOne(orderNos[0])
	default:
		items := make([]RevokeItem, 0, len(orderNos))
		for _, no := range orderNos {
			items = append(items, RevokeItem{OrderNo: no, Err: cancelOne(no)})
		}
		return RevokedMany(items), nil
	}
}

// Failed returns the items whose cancellation failed.
func (r RevokeResult) Failed() []RevokeItem {
	var out []RevokeItem
	for _, it := range r.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}
