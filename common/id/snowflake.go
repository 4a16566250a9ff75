package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Server and worker processes must use distinct node IDs.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a time-ordered int64 ID unique across instances.
func New() int64 {
	return node.Generate().Int64()
}

// NewString returns a new ID formatted as a decimal string.
// Plan entries and audit records carry string identifiers in their
// JSON artifacts, so this is the form most callers want.
func NewString() string {
	return strconv.FormatInt(New(), 10)
}
