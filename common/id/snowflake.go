// Package id issues the time-ordered identifiers that tag engagement
// cycles in logs and status reporting.
package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init prepares the generator for the given node ID. Call once at
// startup, before the first cycle runs; later calls are no-ops.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NewCycleID returns a fresh Snowflake identifier for an engagement
// cycle. IDs sort by creation time, so cycle logs interleave
// chronologically across instances.
func NewCycleID() int64 {
	return node.Generate().Int64()
}
