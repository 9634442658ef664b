// Package lineage retrieves lineage graphs from the catalog's bulk lineage
// endpoint and filters them by object type without breaking reachability.
package lineage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Direction of traversal from the root nodes
type Direction string

const (
	Upstream   Direction = "upstream"
	Downstream Direction = "downstream"
)

// ProcessingMode selects between one full subgraph and paged chunks
type ProcessingMode string

const (
	// ProcessingComplete returns the whole subgraph in one response
	ProcessingComplete ProcessingMode = "complete"
	// ProcessingChunked returns partial subgraphs with pagination
	ProcessingChunked ProcessingMode = "chunked"
)

// DesignTime restricts lineage edges by how they were recorded
type DesignTime int

const (
	DesignTimeOnly  DesignTime = 1
	RunTimeOnly     DesignTime = 2
	DesignOrRunTime DesignTime = 3
)

// KeyType says how root nodes are identified
type KeyType string

const (
	KeyByID                 KeyType = "id"
	KeyByFullyQualifiedName KeyType = "fully_qualified_name"
)

// NodeID is a catalog object id. The catalog uses integers for most object
// types and strings for some; the original JSON form is preserved.
type NodeID struct {
	value   string
	numeric bool
}

// IntID returns a numeric id
func IntID(id int64) NodeID {
	return NodeID{value: strconv.FormatInt(id, 10), numeric: true}
}

// StringID returns a string id
func StringID(id string) NodeID {
	return NodeID{value: id}
}

// String returns the id as text; 7 and "7" print the same
func (id NodeID) String() string { return id.value }

// IsNumeric reports whether the id is a JSON number
func (id NodeID) IsNumeric() bool { return id.numeric }

// IsZero reports whether the id is unset
func (id NodeID) IsZero() bool { return id.value == "" && !id.numeric }

func (id NodeID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

func (id *NodeID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("node id must be a string or number: %w", err)
	}
	*id = NodeID{value: n.String(), numeric: true}
	return nil
}

// GraphNode is one object in a lineage graph. The same logical node may be
// repeated by value under several parents.
type GraphNode struct {
	ID                 NodeID      `json:"id"`
	OType              string      `json:"otype"`
	FullyQualifiedName string      `json:"fully_qualified_name,omitempty"`
	Neighbors          []GraphNode `json:"neighbors,omitzero"`
}

// Key identifies the logical node as "{otype}:{id}"
func (n GraphNode) Key() string {
	return n.OType + ":" + n.ID.String()
}

// ref returns the node without its neighbors
func (n GraphNode) ref() GraphNode {
	return GraphNode{ID: n.ID, OType: n.OType, FullyQualifiedName: n.FullyQualifiedName}
}

// RootNode is a starting object, identified either by id or by fully
// qualified name. All root nodes of one request use the same identification.
type RootNode struct {
	OType              string `json:"otype"`
	ID                 NodeID `json:"id,omitzero"`
	FullyQualifiedName string `json:"fully_qualified_name,omitempty"`
}

// keyType reports how the node is identified, or "" when it is not
func (r RootNode) keyType() KeyType {
	switch {
	case !r.ID.IsZero() && r.FullyQualifiedName == "":
		return KeyByID
	case r.ID.IsZero() && r.FullyQualifiedName != "":
		return KeyByFullyQualifiedName
	default:
		return ""
	}
}
