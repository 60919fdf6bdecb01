package steward

import "github.com/chainworks/steward/id"

// ID is the primary identifier type for all steward entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
