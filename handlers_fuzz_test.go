package broker

import (
	"context"
	"testing"

	"github.com/auraspeak/broker/internal/router"
	"github.com/auraspeak/broker/pkg/protocol"
	log "github.com/sirupsen/logrus"
)

func init() {
	// Keep fuzzing fast and the output readable.
	log.SetLevel(log.PanicLevel)
}

// FuzzRegistryRequests feeds raw datagrams through packet decoding and the
// registration handlers. Nothing may panic, and the directory must stay
// consistent with the names it reports.
func FuzzRegistryRequests(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{0xFF})
	f.Add([]byte{0x10, 0, 0, 0, 1})
	f.Add(append([]byte{0x10, 0, 0, 0, 1}, `{"name":"talker","pid":1,"control_ip":"127.0.0.1","control_port":7000}`...))
	f.Add(append([]byte{0x12, 0, 0, 0, 2}, `{"node_name":"talker","id":"p","topic":"t","protocol":"tcp"}`...))
	f.Add(append([]byte{0x13, 0, 0, 0, 3}, `{"node_name":"talker","id":"s","topic":"t","protocol":"TCP"}`...))
	f.Add(append([]byte{0x11, 0, 0, 0, 4}, `{"name":"talker"}`...))
	f.Add(append([]byte{0x14, 0, 0, 0, 5}, `null`...))
	f.Add(append([]byte{0x12, 0, 0, 0, 6}, `{"protocol":7}`...))
	f.Add(append([]byte{0x14, 0, 0, 0, 7}, `{"cursor":1}`...))

	f.Fuzz(func(t *testing.T, data []byte) {
		reg := newRegistry(t).reg
		r := router.NewRouter()
		reg.Routes(r)

		// Register a node first so endpoint requests have something to hit.
		seed, err := protocol.NewPacket(protocol.PacketTypeRegisterNode, 0, protocol.RegisterNodeRequest{Name: "talker"})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := r.HandlePacket(seed, "fuzz"); err != nil {
			t.Fatal(err)
		}

		packet, err := protocol.Decode(data)
		if err != nil {
			return
		}
		result, err := r.HandlePacket(packet, "fuzz")
		_ = protocol.NewReply(result, err)

		names := reg.Directory().Names()
		if len(reg.ListNodes()) != len(names) {
			t.Fatalf("list_nodes and directory disagree: %d vs %d", len(reg.ListNodes()), len(names))
		}
		_ = reg.UnregisterAllNodes(context.Background())
		if reg.Directory().Len() != 0 {
			t.Fatal("directory not empty after unregistering all nodes")
		}
	})
}
