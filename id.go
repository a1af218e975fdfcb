package jobs

import "github.com/assaka/daino-jobs/id"

// ID is the primary identifier type for all job entities.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
