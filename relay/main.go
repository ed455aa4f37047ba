// Standalone relay service: peers submit bundles of locally created
// messages and poll for bundles submitted by other peers. Serves net/rpc
// over TCP, service name "Relay".
package main

import (
	"errors"
	"flag"
	"log"
	"net"
	"net/rpc"
	"os"
	"os/signal"
	"syscall"

	sf "github.com/tinode/snowflake"

	"github.com/meshchat/chat/relay/protocol"
	t "github.com/meshchat/chat/server/store/types"
)

var errNotAuthorized = errors.New("relay: invalid secret")

// Relay is the RPC service exposed to chat servers.
type Relay struct {
	secret string
	seq    *sf.SnowFlake
	log    *bundleLog
}

// Write records one bundle, assigning it an id and a timestamp.
func (r *Relay) Write(req *protocol.WriteReq, resp *protocol.WriteResp) error {
	if req.Secret != r.secret {
		return errNotAuthorized
	}

	id, err := r.seq.Next()
	if err != nil {
		return err
	}

	bundle := req.Bundle
	bundle.Id = t.Uid(id)
	bundle.CreatedAt = t.TimeNow()
	bundle.Origin = req.Origin
	r.log.append(&bundle)

	resp.Id = bundle.Id
	log.Printf("recorded bundle %d from server %s (%d total)",
		id, req.Origin.String(), r.log.size())
	return nil
}

// Read returns bundles recorded strictly after the caller's cursor, oldest
// first, capped at the requested limit.
func (r *Relay) Read(req *protocol.ReadReq, resp *protocol.ReadResp) error {
	if req.Secret != r.secret {
		return errNotAuthorized
	}

	limit := req.Limit
	if limit <= 0 || limit > 1024 {
		limit = 32
	}
	resp.Bundles = r.log.read(req.After, limit)
	return nil
}

func main() {
	var (
		listenOn = flag.String("listen", ":16060", "TCP address to listen on")
		secret   = flag.String("secret", "", "shared secret chat servers must present")
		workerId = flag.Uint("worker_id", 1, "snowflake worker id of this relay")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags)

	if *secret == "" {
		log.Fatal("a non-empty -secret is required")
	}

	seq, err := sf.NewSnowFlake(uint32(*workerId))
	if err != nil {
		log.Fatal("failed to init snowflake:", err)
	}

	relay := &Relay{
		secret: *secret,
		seq:    seq,
		log:    newBundleLog(),
	}
	if err := rpc.Register(relay); err != nil {
		log.Fatal("failed to register rpc service:", err)
	}

	lis, err := net.Listen("tcp", *listenOn)
	if err != nil {
		log.Fatal("failed to listen:", err)
	}
	log.Printf("listening on %s", *listenOn)
	go rpc.Accept(lis)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	log.Printf("shutting down on %s (%d bundles recorded)", sig, relay.log.size())
	lis.Close()
}
