/******************************************************************************
 *
 *  Description :
 *    Client side of the relay federation: a reconnecting RPC link used to
 *    push locally created messages to the relay and to periodically pull
 *    and merge bundles recorded by peer servers.
 *
 *****************************************************************************/
package main

import (
	"errors"
	"net/rpc"
	"sync"
	"time"

	"github.com/meshchat/chat/relay/protocol"
	"github.com/meshchat/chat/server/logs"
	"github.com/meshchat/chat/server/store"
	t "github.com/meshchat/chat/server/store/types"
)

const defaultRelayReconnect = 1000 * time.Millisecond

type relayConfig struct {
	// TCP address of the relay, host:port. Empty disables federation.
	Address string `json:"address"`
	// Shared secret presented on every call.
	Secret string `json:"secret"`
	// Interval between pull cycles, milliseconds.
	PullInterval int `json:"pull_interval"`
	// Maximum number of bundles fetched per cycle.
	ReadLimit int `json:"read_limit"`
}

// relayClient is this server's connection to the relay.
type relayClient struct {
	lock sync.Mutex

	// RPC endpoint
	endpoint *rpc.Client
	// True if the endpoint is believed to be connected
	connected bool
	// True if a go routine is trying to reconnect the relay
	reconnecting bool
	// TCP address in the form host:port
	address string
	// Shared secret
	secret string

	// Id of the last bundle merged into the local model. Advanced only
	// past bundles which merged cleanly.
	lastSeen t.Uid

	pullInterval time.Duration
	readLimit    int

	// Channel for shutting down the client; buffered, 1.
	done chan bool
}

func relayInit(config *relayConfig) *relayClient {
	if config == nil || config.Address == "" {
		logs.Info.Println("relay: not configured, running standalone")
		return nil
	}

	rc := &relayClient{
		address:      config.Address,
		secret:       config.Secret,
		pullInterval: time.Duration(config.PullInterval) * time.Millisecond,
		readLimit:    config.ReadLimit,
		done:         make(chan bool, 1),
	}
	if rc.pullInterval <= 0 {
		rc.pullInterval = 5 * time.Second
	}
	if rc.readLimit <= 0 {
		rc.readLimit = 32
	}

	go rc.reconnect()
	go rc.pullLoop()

	logs.Info.Printf("relay: pulling from '%s' every %s", rc.address, rc.pullInterval)
	return rc
}

func (rc *relayClient) shutdown() {
	select {
	case rc.done <- true:
	default:
	}
}

// reconnect dials the relay until it succeeds or the client is shut down.
func (rc *relayClient) reconnect() {
	var reconnTicker *time.Ticker

	// Avoid parallel reconnection threads.
	rc.lock.Lock()
	if rc.reconnecting {
		rc.lock.Unlock()
		return
	}
	rc.reconnecting = true
	rc.lock.Unlock()

	var count = 0
	var err error
	for {
		// Attempt to reconnect right away
		if rc.endpoint, err = rpc.Dial("tcp", rc.address); err == nil {
			if reconnTicker != nil {
				reconnTicker.Stop()
			}
			rc.lock.Lock()
			rc.connected = true
			rc.reconnecting = false
			rc.lock.Unlock()
			statsSet("RelayConnected", 1)
			logs.Info.Printf("relay: connection to '%s' established", rc.address)
			return
		} else if count == 0 {
			reconnTicker = time.NewTicker(defaultRelayReconnect)
		}

		count++

		select {
		case <-reconnTicker.C:
			// Wait for timer to try to reconnect again.
		case <-rc.done:
			reconnTicker.Stop()
			if rc.endpoint != nil {
				rc.endpoint.Close()
			}
			rc.lock.Lock()
			rc.connected = false
			rc.reconnecting = false
			rc.lock.Unlock()
			logs.Info.Println("relay: shutdown during reconnect")
			return
		}
	}
}

func (rc *relayClient) call(proc string, msg, resp interface{}) error {
	if !rc.connected {
		return errors.New("relay: not connected")
	}

	if err := rc.endpoint.Call(proc, msg, resp); err != nil {
		logs.Warning.Printf("relay: call failed [%s]", err)

		rc.lock.Lock()
		if rc.connected {
			rc.endpoint.Close()
			rc.connected = false
			statsSet("RelayConnected", 0)
			go rc.reconnect()
		}
		rc.lock.Unlock()
		return err
	}

	return nil
}

// scheduleSend pushes a locally created message to the relay without
// blocking the request handler. Failures are logged and dropped; the
// message is already durable locally.
func (rc *relayClient) scheduleSend(author, conversation, message t.Uid) {
	globals.pool.Schedule(func() {
		if err := rc.send(author, conversation, message); err != nil {
			logs.Warning.Println("relay: write failed:", err)
			statsInc("RelayWritesFailed", 1)
		}
	})
}

func (rc *relayClient) send(author, conversation, message t.Uid) error {
	user, err := store.Users.Get(author)
	if err != nil {
		return err
	}
	header, err := store.Conversations.Get(conversation)
	if err != nil {
		return err
	}
	msg, err := store.Messages.Get(message)
	if err != nil {
		return err
	}
	if user == nil || header == nil || msg == nil {
		return errors.New("relay: entity missing, nothing to send")
	}

	req := &protocol.WriteReq{
		Origin: globals.serverId,
		Secret: rc.secret,
		Bundle: t.Bundle{
			Origin: globals.serverId,
			User: t.BundleComponent{
				Id:        user.Id,
				Text:      user.Name,
				CreatedAt: user.CreatedAt,
			},
			Conversation: t.BundleConversation{
				Id:            header.Id,
				Title:         header.Title,
				CreatedAt:     header.CreatedAt,
				Creator:       header.Creator,
				DefaultAccess: header.DefaultAccess,
			},
			Message: t.BundleComponent{
				Id:        msg.Id,
				Text:      msg.Content,
				CreatedAt: msg.CreatedAt,
			},
		},
	}
	var resp protocol.WriteResp
	return rc.call("Relay.Write", req, &resp)
}

// pullLoop periodically fetches and merges bundles recorded by peers.
func (rc *relayClient) pullLoop() {
	ticker := time.NewTicker(rc.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := rc.pullOnce(); err != nil {
				logs.Warning.Println("relay: pull failed:", err)
			} else {
				statsInc("RelayCyclesCompleted", 1)
			}
		case <-rc.done:
			logs.Info.Println("relay: pull loop stopped")
			return
		}
	}
}

func (rc *relayClient) pullOnce() error {
	req := &protocol.ReadReq{
		Origin: globals.serverId,
		Secret: rc.secret,
		After:  rc.lastSeen,
		Limit:  rc.readLimit,
	}
	var resp protocol.ReadResp
	if err := rc.call("Relay.Read", req, &resp); err != nil {
		return err
	}

	for i := range resp.Bundles {
		bundle := &resp.Bundles[i]
		globals.modelLock.Lock()
		err := mergeBundle(bundle)
		globals.modelLock.Unlock()
		if err != nil {
			// Leave lastSeen alone: the bundle is retried next cycle.
			return err
		}
		rc.lastSeen = bundle.Id
		statsInc("RelayBundlesMerged", 1)
	}
	return nil
}

// mergeBundle materializes a peer's activity locally: first the user, then
// the conversation, then the message, each skipped if its id is already
// present. Replaying the same bundle is therefore a no-op.
// Caller holds the model lock.
func mergeBundle(bundle *t.Bundle) error {
	user, err := store.Users.Get(bundle.User.Id)
	if err != nil {
		return err
	}
	if user == nil {
		user = &t.User{
			Id:        bundle.User.Id,
			Name:      bundle.User.Text,
			CreatedAt: bundle.User.CreatedAt,
		}
		if err = store.Users.CreateRemote(user); err != nil {
			return err
		}
	}

	header, err := store.Conversations.Get(bundle.Conversation.Id)
	if err != nil {
		return err
	}
	if header == nil {
		// The relay does not guarantee the original creator is known here.
		// The author of the first relayed message becomes the owner of
		// record for this server's copy.
		header = &t.ConversationHeader{
			Id:            bundle.Conversation.Id,
			Creator:       bundle.User.Id,
			CreatedAt:     bundle.Conversation.CreatedAt,
			Title:         bundle.Conversation.Title,
			DefaultAccess: bundle.Conversation.DefaultAccess,
		}
		if err = store.Conversations.CreateRemote(header); err != nil {
			return err
		}
	}

	msg, err := store.Messages.Get(bundle.Message.Id)
	if err != nil {
		return err
	}
	if msg == nil {
		msg = &t.Message{
			Id:           bundle.Message.Id,
			CreatedAt:    bundle.Message.CreatedAt,
			Author:       bundle.User.Id,
			Content:      bundle.Message.Text,
			Conversation: bundle.Conversation.Id,
		}
		if err = store.Messages.SaveRemote(msg); err != nil {
			return err
		}
	}

	return nil
}
