package redis

// Redis key naming conventions. All keys are prefixed with "jobs:" to
// avoid collisions.

const keyPrefix = "jobs:"

// cancelKey holds the cancellation reason of a job: jobs:cancel:{id}
func cancelKey(id string) string { return keyPrefix + "cancel:" + id }

// progressStreamKey is the progress Stream of a tenant:
// jobs:progress:{store_id}. Platform jobs use "_platform".
func progressStreamKey(storeID string) string {
	if storeID == "" {
		storeID = "_platform"
	}
	return keyPrefix + "progress:" + storeID
}
