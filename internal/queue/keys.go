package queue

// Redis key naming conventions. All keys are prefixed with "botdispatch:"
// to avoid collisions with other tenants of the same Redis.

const keyPrefix = "botdispatch:"

// jobKeyPrefix is prepended to a job id to form its hash key.
const jobKeyPrefix = keyPrefix + "job:"

// jobKey returns the hash key for a job: botdispatch:job:{id}
func jobKey(id string) string { return jobKeyPrefix + id }

// readyKey returns the sorted set of runnable jobs scored by run_at (ms).
func readyKey(queue string) string { return keyPrefix + "queue:" + queue + ":ready" }

// processingKey returns the sorted set of claimed jobs scored by claim time (ms).
func processingKey(queue string) string { return keyPrefix + "queue:" + queue + ":processing" }

// deadKey returns the sorted set of dead-lettered jobs scored by dead time (ms).
func deadKey(queue string) string { return keyPrefix + "queue:" + queue + ":dead" }
