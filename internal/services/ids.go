package services

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// IDGenerator hands out snowflake IDs for content, ledger and audit records.
// Within one node IDs increase with time, which keeps sorts and pages stable.
type IDGenerator struct {
	node *snowflake.Node
}

func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node}, nil
}

func (g *IDGenerator) Next() snowflake.ID {
	return g.node.Generate()
}
