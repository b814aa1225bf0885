package ipc

// Default capacities.
const (
	DefaultQueueCapacity     = 512
	DefaultBroadcastCapacity = 16
)

// Options configures NewBus.
type Options struct {
	QueueCapacity     int
	BroadcastCapacity int
}

func (o Options) withDefaults() Options {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = DefaultQueueCapacity
	}
	if o.BroadcastCapacity <= 0 {
		o.BroadcastCapacity = DefaultBroadcastCapacity
	}
	return o
}

// Bus groups the channels the supervisor owns.
//
//	collector --FromCollector--> supervisor --ToBroker--> broker
//	broker    --FromBroker-----> supervisor
//	supervisor --Shutdown (fan-out)--> every task
type Bus struct {
	FromCollector *Queue
	ToBroker      *Queue
	FromBroker    *Queue
	Shutdown      *Broadcast
}

// NewBus creates every queue with the configured capacities.
func NewBus(opts Options) *Bus {
	opts = opts.withDefaults()
	return &Bus{
		FromCollector: NewQueue("from_collector", opts.QueueCapacity),
		ToBroker:      NewQueue("to_broker", opts.QueueCapacity),
		FromBroker:    NewQueue("from_broker", opts.QueueCapacity),
		Shutdown:      NewBroadcast(opts.BroadcastCapacity),
	}
}

// BrokerEnds is the set of bus ends handed to a broker task.
type BrokerEnds struct {
	// Outbound is received from.
	Outbound *Queue
	// Inbound is sent to.
	Inbound  *Queue
	Shutdown *Subscription
}

// BrokerEnds subscribes to the shutdown fan-out and returns the ends a
// broker task needs.
func (b *Bus) BrokerEnds() BrokerEnds {
	return BrokerEnds{
		Outbound: b.ToBroker,
		Inbound:  b.FromBroker,
		Shutdown: b.Shutdown.Subscribe(),
	}
}
