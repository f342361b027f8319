package cluster

import (
	"github.com/quantive/grid/grid"
)

type NodeUpdateType int

const (
	NodeAdded NodeUpdateType = iota
	NodeRemoved
	NodeChanged
)

// NodeUpdate represents a change to the registry.
type NodeUpdate struct {
	UpdateType NodeUpdateType
	Id         grid.NodeId
	Node       *grid.Node // Snapshot copy, only set for adds and changes.
}
