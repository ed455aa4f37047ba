// Package protocol defines the RPC messages exchanged between chat servers
// and the relay. Transport is net/rpc over gob, service name "Relay".
package protocol

import (
	t "github.com/meshchat/chat/server/store/types"
)

// WriteReq asks the relay to record one bundle. The relay assigns the
// bundle id and timestamp; Origin identifies the submitting server.
type WriteReq struct {
	Origin t.Uid
	Secret string
	Bundle t.Bundle
}

// WriteResp acknowledges a recorded bundle.
type WriteResp struct {
	Id t.Uid
}

// ReadReq asks for bundles recorded strictly after the given cursor.
type ReadReq struct {
	Origin t.Uid
	Secret string
	// Id of the last bundle the caller has merged, ZeroUid for the start
	// of the log.
	After t.Uid
	// Maximum number of bundles to return.
	Limit int
}

// ReadResp carries the next slice of the bundle log in id order.
type ReadResp struct {
	Bundles []t.Bundle
}
