/******************************************************************************
 *
 *  Description :
 *    TCP transport: every accepted connection carries exactly one request
 *    and receives one response, then the connection is closed. Connections
 *    are handled on a bounded goroutine pool so slow clients cannot stall
 *    the accept loop.
 *
 *****************************************************************************/
package main

import (
	"bufio"
	"net"
	"time"

	"github.com/meshchat/chat/server/logs"
)

// connTimeout bounds a single request/response exchange.
const connTimeout = 30 * time.Second

func serveTCP(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-globals.shutdown:
				logs.Info.Println("tcp: accept loop stopped")
			default:
				logs.Error.Println("tcp: accept failed:", err)
			}
			return
		}

		statsInc("TotalSessions", 1)
		statsInc("LiveSessions", 1)
		globals.pool.Schedule(func() {
			handleConn(conn)
			statsInc("LiveSessions", -1)
		})
	}
}

func handleConn(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(connTimeout)); err != nil {
		logs.Warning.Println("tcp: failed to set deadline:", err)
		return
	}

	in := bufio.NewReader(conn)
	out := bufio.NewWriter(conn)
	dispatch(in, out)
	if err := out.Flush(); err != nil {
		logs.Warning.Println("tcp: failed to flush response:", err)
	}
}
