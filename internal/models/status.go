package models

type OrderStatus string

const (
	StatusSubmitted         OrderStatus = "submitted"
	StatusKitSent           OrderStatus = "kit-sent"
	StatusReceived          OrderStatus = "received"
	StatusInspectedOK       OrderStatus = "inspected-ok"
	StatusInspectedMismatch OrderStatus = "inspected-mismatch"
	StatusPaid              OrderStatus = "paid"
	StatusReturned          OrderStatus = "returned"
	StatusClosed            OrderStatus = "closed"
	StatusCancelled         OrderStatus = "cancelled"
)

// statusEdges: единственное место, где описан граф переходов.
// cancelled добавляется ко всем нетерминальным статусам в init.
var statusEdges = map[OrderStatus][]OrderStatus{
	StatusSubmitted:         {StatusKitSent},
	StatusKitSent:           {StatusReceived},
	StatusReceived:          {StatusInspectedOK, StatusInspectedMismatch},
	StatusInspectedOK:       {StatusPaid, StatusReturned},
	StatusInspectedMismatch: {StatusPaid, StatusReturned},
	StatusPaid:              {StatusClosed},
	StatusReturned:          {StatusClosed},
	StatusClosed:            nil,
	StatusCancelled:         nil,
}

var terminalStatuses = map[OrderStatus]struct{}{
	StatusClosed:    {},
	StatusCancelled: {},
}

var allowedTransitions map[OrderStatus]map[OrderStatus]struct{}

func init() {
	allowedTransitions = make(map[OrderStatus]map[OrderStatus]struct{}, len(statusEdges))
	for from, tos := range statusEdges {
		set := make(map[OrderStatus]struct{}, len(tos)+1)
		for _, to := range tos {
			set[to] = struct{}{}
		}
		if _, terminal := terminalStatuses[from]; !terminal {
			set[StatusCancelled] = struct{}{}
		}
		allowedTransitions[from] = set
	}
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []OrderStatus {
	return []OrderStatus{
		StatusSubmitted,
		StatusKitSent,
		StatusReceived,
		StatusInspectedOK,
		StatusInspectedMismatch,
		StatusPaid,
		StatusReturned,
		StatusClosed,
		StatusCancelled,
	}
}

func (s OrderStatus) Valid() bool {
	_, ok := statusEdges[s]
	return ok
}

func (s OrderStatus) Terminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// CanTransition reports whether the edge from -> to exists in the status graph.
func CanTransition(from, to OrderStatus) bool {
	set, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = set[to]
	return ok
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s OrderStatus) []OrderStatus {
	var out []OrderStatus
	for _, to := range AllStatuses() {
		if CanTransition(s, to) {
			out = append(out, to)
		}
	}
	return out
}
