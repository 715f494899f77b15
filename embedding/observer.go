package embedding

import "github.com/mechlink/mechlink/observability"

// Session event types emitted over the lifecycle.
const (
	EventStart   observability.EventType = "session.start"
	EventRebuild observability.EventType = "session.rebuild"
	EventSave    observability.EventType = "session.save"
	EventDispose observability.EventType = "session.dispose"
	EventError   observability.EventType = "session.error"
)
