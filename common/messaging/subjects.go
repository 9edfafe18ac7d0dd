package messaging

// Subject constants for the secure logging message bus.
// Follow the pattern: {domain}.{action}.{resource}
const (
	// SubjectEventsIngest carries log requests from upstream producers
	// (emergency-stop manager, compliance services).
	SubjectEventsIngest = "securelog.events.ingest"

	// SubjectEventsLogged is published after an event completes the pipeline.
	SubjectEventsLogged = "securelog.events.logged"

	// SubjectSIEMEvents carries normalized SIEM events for bus consumers.
	SubjectSIEMEvents = "securelog.siem.events"

	// SubjectHealthPing is used for broker round-trip checks.
	SubjectHealthPing = "_HEALTH.securelog.ping"
)

// Queue group names for load-balanced consumers.
const (
	QueueIngestWorkers = "securelog-ingest"
)

// SIEMEventSubject returns the per-type subject for a normalized SIEM event.
// Example: securelog.siem.events.emergency_stop
func SIEMEventSubject(eventType string) string {
	if eventType == "" {
		return SubjectSIEMEvents
	}
	return SubjectSIEMEvents + "." + eventType
}
