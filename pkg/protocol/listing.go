package protocol

import (
	"fmt"

	"github.com/auraspeak/broker/pkg/api"
	json "github.com/goccy/go-json"
)

// Listing row kinds.
const (
	RowNode       = "node"
	RowPublisher  = "publisher"
	RowSubscriber = "subscriber"
)

// ListNodesRequest is the payload of PacketTypeListNodes. Cursor is the index
// of the first row wanted.
type ListNodesRequest struct {
	Cursor int `json:"cursor"`
}

// ListRow is one row of the flattened node listing: a node, or one endpoint
// of the node named by Node.
type ListRow struct {
	Kind        string        `json:"kind"`
	Node        string        `json:"node"`
	PID         int           `json:"pid,omitempty"`
	ControlIP   string        `json:"control_ip,omitempty"`
	ControlPort int           `json:"control_port,omitempty"`
	Session     string        `json:"session,omitempty"`
	Endpoint    *api.Endpoint `json:"endpoint,omitempty"`
}

// ListNodesPage is the reply data of PacketTypeListNodes. Rows continue at
// Next; the listing is complete once Next reaches Total.
type ListNodesPage struct {
	Rows  []ListRow `json:"rows"`
	Next  int       `json:"next"`
	Total int       `json:"total"`
}

// FlattenNodes turns snapshots into listing rows: each node row is followed
// by its publishers, then its subscribers.
func FlattenNodes(nodes []NodeSnapshot) []ListRow {
	var rows []ListRow
	for _, n := range nodes {
		rows = append(rows, ListRow{
			Kind:        RowNode,
			Node:        n.Name,
			PID:         n.PID,
			ControlIP:   n.ControlIP,
			ControlPort: n.ControlPort,
			Session:     n.Session,
		})
		for i := range n.Publishers {
			rows = append(rows, ListRow{Kind: RowPublisher, Node: n.Name, Endpoint: &n.Publishers[i]})
		}
		for i := range n.Subscribers {
			rows = append(rows, ListRow{Kind: RowSubscriber, Node: n.Name, Endpoint: &n.Subscribers[i]})
		}
	}
	return rows
}

// AssembleNodes rebuilds snapshots from rows. Endpoint rows whose node row
// was never seen are dropped, as are duplicate node rows.
func AssembleNodes(rows []ListRow) []NodeSnapshot {
	out := []NodeSnapshot{}
	index := map[string]int{}
	for _, r := range rows {
		switch r.Kind {
		case RowNode:
			if _, ok := index[r.Node]; ok {
				continue
			}
			index[r.Node] = len(out)
			out = append(out, NodeSnapshot{
				Name:        r.Node,
				PID:         r.PID,
				ControlIP:   r.ControlIP,
				ControlPort: r.ControlPort,
				Session:     r.Session,
				Publishers:  []api.Endpoint{},
				Subscribers: []api.Endpoint{},
			})
		case RowPublisher, RowSubscriber:
			i, ok := index[r.Node]
			if !ok || r.Endpoint == nil {
				continue
			}
			if r.Kind == RowPublisher {
				out[i].Publishers = append(out[i].Publishers, *r.Endpoint)
			} else {
				out[i].Subscribers = append(out[i].Subscribers, *r.Endpoint)
			}
		}
	}
	return out
}

// PageRows returns the rows from cursor on that fit in one reply packet.
// A cursor at or past the end yields an empty final page.
func PageRows(rows []ListRow, cursor int) (ListNodesPage, error) {
	if cursor < 0 {
		return ListNodesPage{}, fmt.Errorf("%w: negative cursor %d", ErrBadRequest, cursor)
	}
	page := ListNodesPage{Rows: []ListRow{}, Next: cursor, Total: len(rows)}
	if cursor >= len(rows) {
		page.Next = len(rows)
		return page, nil
	}
	for i := cursor; i < len(rows); i++ {
		candidate := ListNodesPage{Rows: rows[cursor : i+1], Next: i + 1, Total: len(rows)}
		size, err := replySize(candidate)
		if err != nil {
			return ListNodesPage{}, err
		}
		if size > MaxPayloadSize {
			break
		}
		page = candidate
	}
	if len(page.Rows) == 0 {
		return ListNodesPage{}, fmt.Errorf("%w: listing row %d of node %q", ErrPayloadTooLarge, cursor, rows[cursor].Node)
	}
	return page, nil
}

func replySize(data any) (int, error) {
	reply := NewReply(data, nil)
	if !reply.OK {
		return 0, reply.Err()
	}
	b, err := json.Marshal(reply)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
