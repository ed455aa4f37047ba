/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections. The same dispatcher as the TCP
 *    transport; each binary frame carries one request, the reply frame
 *    carries the response.
 *
 *****************************************************************************/

package main

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meshchat/chat/server/logs"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next message from the peer.
	idleTimeout = 55 * time.Second

	// Maximum size of a single inbound frame.
	maxFrameSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Frames carry the same opcode protocol as raw TCP; clients are not
	// browsers bound by the same-origin policy.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		wrt.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if err != nil {
		logs.Warning.Println("ws: failed to upgrade:", err)
		return
	}

	statsInc("TotalSessions", 1)
	statsInc("LiveSessions", 1)
	defer func() {
		ws.Close()
		statsInc("LiveSessions", -1)
	}()

	ws.SetReadLimit(maxFrameSize)

	for {
		ws.SetReadDeadline(time.Now().Add(idleTimeout))
		msgType, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logs.Warning.Println("ws: read failed:", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			logs.Info.Println("ws: dropping non-binary frame")
			continue
		}

		var resp bytes.Buffer
		dispatch(bytes.NewReader(raw), &resp)

		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(websocket.BinaryMessage, resp.Bytes()); err != nil {
			logs.Warning.Println("ws: write failed:", err)
			return
		}
	}
}
