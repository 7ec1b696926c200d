package bus

// Exchange is the direct exchange every route is bound to.
const Exchange = "touristExchange"

// Command and result routing keys, one request/response pair per mutation kind.
const (
	RouteCreate = "tourist.post"
	RouteUpdate = "tourist.put"
	RouteDelete = "tourist.delete"

	RouteCreateResult = "tourist.post.response"
	RouteUpdateResult = "tourist.put.response"
	RouteDeleteResult = "tourist.delete.response"
)

// Route binds a routing key to the durable queue that holds its messages.
type Route struct {
	Key   string
	Queue string
}

// Topology lists every route of the tourist exchange.
var Topology = []Route{
	{Key: RouteCreate, Queue: "touristPostRequestQueue"},
	{Key: RouteUpdate, Queue: "touristPutRequestQueue"},
	{Key: RouteDelete, Queue: "touristDeleteRequestQueue"},
	{Key: RouteCreateResult, Queue: "touristPostResponseQueue"},
	{Key: RouteUpdateResult, Queue: "touristPutResponseQueue"},
	{Key: RouteDeleteResult, Queue: "touristDeleteResponseQueue"},
}

// QueueFor returns the queue bound to key, or key itself for unknown keys.
func QueueFor(key string) string {
	for _, r := range Topology {
		if r.Key == key {
			return r.Queue
		}
	}
	return key
}

// ResultRoute maps a command routing key to the key its result is published on.
func ResultRoute(command string) (string, bool) {
	switch command {
	case RouteCreate:
		return RouteCreateResult, true
	case RouteUpdate:
		return RouteUpdateResult, true
	case RouteDelete:
		return RouteDeleteResult, true
	}
	return "", false
}
