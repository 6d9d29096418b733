package metrics

// Consumer outcomes recorded in EventsConsumed.
const (
	OutcomeProcessed    = "processed"
	OutcomeDuplicate    = "duplicate"
	OutcomeRetried      = "retried"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeRequeued     = "requeued"
)

// Pipeline holds the event pipeline series. Tests build their own with
// NewPipeline to avoid sharing counters.
type Pipeline struct {
	EventsConsumed     *CounterVec
	EventsDeadLettered *CounterVec
	EventsPublished    *CounterVec
	OutboxPending      *GaugeVec
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		EventsConsumed: NewCounterVec(Opts{
			Name: "events_consumed_total",
			Help: "Events handled by a consumer group, by outcome.",
		}, []string{"group", "topic", "outcome"}),
		EventsDeadLettered: NewCounterVec(Opts{
			Name: "events_dead_lettered_total",
			Help: "Events a consumer group gave up on and parked in the dead-letter stream.",
		}, []string{"group", "topic", "reason"}),
		EventsPublished: NewCounterVec(Opts{
			Name: "events_published_total",
			Help: "Events written to the broker, by outcome.",
		}, []string{"topic", "outcome"}),
		OutboxPending: NewGaugeVec(Opts{
			Name: "outbox_pending_events",
			Help: "Outbox rows not yet published.",
		}, []string{"producer"}),
	}
}

// Register adds the pipeline series to a registry.
func (p *Pipeline) Register(r *Registry) {
	r.MustRegister(p.EventsConsumed, p.EventsDeadLettered, p.EventsPublished, p.OutboxPending)
}

// Events is the process-wide pipeline, registered on Default.
var Events = NewPipeline()

func init() {
	Events.Register(Default)
}
