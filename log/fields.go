package log

const (
	NamespaceKey = "dslflow"

	RunIDKey       = NamespaceKey + ".run.id"
	ParentRunIDKey = NamespaceKey + ".run.parent_id"
	WorkflowKey    = NamespaceKey + ".workflow.name"
	VersionKey     = NamespaceKey + ".workflow.version"
	StatusKey      = NamespaceKey + ".workflow.status"

	TaskIDKey     = NamespaceKey + ".task.id"
	TaskStatusKey = NamespaceKey + ".task.status"
	AgentIDKey    = NamespaceKey + ".task.agent"
	SubflowKey    = NamespaceKey + ".task.subflow"
	FallbackKey   = NamespaceKey + ".task.fallback"

	AttemptKey  = NamespaceKey + ".attempt"
	DurationKey = NamespaceKey + ".duration_ms"
	BackoffKey  = NamespaceKey + ".backoff_ms"
	InFlightKey = NamespaceKey + ".inflight"

	// ConditionKey is the textual form of an evaluated condition
	ConditionKey = NamespaceKey + ".condition"

	BackendKey = NamespaceKey + ".backend"
)
