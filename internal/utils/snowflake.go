package utils

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDNode generates unique snowflake IDs for records and click events
type IDNode struct {
	node *snowflake.Node
}

// NewIDNode creates a snowflake node from datacenter and worker IDs.
// Both use 5 bits (0-31) of the 10 bit node ID.
func NewIDNode(datacenterID, workerID int64) (*IDNode, error) {
	if datacenterID < 0 || datacenterID > 31 || workerID < 0 || workerID > 31 {
		return nil, fmt.Errorf("snowflake ids out of range: datacenter=%d worker=%d", datacenterID, workerID)
	}
	node, err := snowflake.NewNode((datacenterID << 5) | workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &IDNode{node: node}, nil
}

// Next returns the next ID
func (n *IDNode) Next() int64 {
	return n.node.Generate().Int64()
}
