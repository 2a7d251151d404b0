package metrickeys

const (
	Prefix = "dslflow."

	// Runs
	RunStarted  = Prefix + "run.started"
	RunFinished = Prefix + "run.finished"
	RunDuration = Prefix + "run.duration"

	// Tasks
	TaskDispatched = Prefix + "task.dispatched"
	TaskFinished   = Prefix + "task.finished"
	TaskRetried    = Prefix + "task.retried"
	TaskSkipped    = Prefix + "task.skipped"
	TaskDuration   = Prefix + "task.duration"
	TasksInFlight  = Prefix + "task.inflight"

	EventsDropped = Prefix + "events.dropped"

	// Checkpoints
	CheckpointSaved       = Prefix + "checkpoint.saved"
	CheckpointSaveLatency = Prefix + "checkpoint.save_latency"
	CheckpointLoaded      = Prefix + "checkpoint.loaded"

	SubflowCacheSize     = Prefix + "subflow.cache.size"
	SubflowCacheEviction = Prefix + "subflow.cache.eviction"
)

// Tag names
const (
	// Backend being used
	Backend = "backend"

	// Final status of a run or task
	Status = "status"

	Workflow = "workflow"
	Agent    = "agent"

	// Reason for evicting an entry from the subflow cache
	EvictionReason = "reason"

	// Nested runs
	Nested = "nested"
)
