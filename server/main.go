/******************************************************************************
 *
 *  Description :
 *    Setup & initialization.
 *
 *****************************************************************************/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/tinode/jsonco"

	"github.com/meshchat/chat/server/concurrency"
	"github.com/meshchat/chat/server/logs"
	"github.com/meshchat/chat/server/store"
	t "github.com/meshchat/chat/server/store/types"

	// Storage backends.
	_ "github.com/meshchat/chat/server/db/memdb"
)

// currentVersion is reported in the server-info response.
const currentVersion = "0.17.0"

const (
	defaultNumWorkers       = 16
	defaultSnapshotInterval = 60 * time.Second
)

var globals struct {
	// Identity of this server, presented to the relay as bundle origin.
	serverId t.Uid

	// Serializes model mutations and multi-step read sequences such as
	// permission check + chain walk.
	modelLock sync.Mutex

	// Bounded pool handling client connections and relay pushes.
	pool *concurrency.GoRoutinePool

	// Connection to the relay; nil when federation is disabled.
	relay *relayClient

	// The sole creator of a conversation may hand the rank to another
	// member when this is set.
	allowCreatorHandoff bool

	// Channel for stats updates, see stats.go.
	statsUpdate chan *varUpdate

	// Skips a snapshot tick when the previous snapshot still runs.
	snapshotLock concurrency.SimpleMutex

	// Closed when the server begins shutting down.
	shutdown chan struct{}
}

type permissionsConfig struct {
	AllowCreatorHandoff *bool `json:"allow_creator_handoff"`
}

type configType struct {
	// TCP address for the opcode protocol, e.g. ":16000".
	Listen string `json:"listen"`
	// HTTP address for websocket clients and expvar; empty disables HTTP.
	ListenHTTP string `json:"listen_http"`
	// URL path to expose runtime stats at, "" or "-" disables.
	ExpvarPath string `json:"expvar"`
	// Snowflake worker id, distinct per federated server.
	WorkerId int `json:"worker_id"`
	// Size of the connection handling pool.
	NumWorkers int `json:"num_workers"`
	// Seconds between periodic snapshots, 0 for the default.
	SnapshotInterval int `json:"snapshot_interval"`

	Permissions permissionsConfig `json:"permissions"`
	Relay       *relayConfig      `json:"relay"`
	StoreConfig json.RawMessage   `json:"store_config"`
}

func main() {
	logs.Init()
	logs.Info.Printf("server pid=%d, procs=%d", os.Getpid(), runtime.GOMAXPROCS(runtime.NumCPU()))

	var configfile = flag.String("config", "./meshchat.conf", "Path to config file.")
	var listenOn = flag.String("listen", "", "Override address and port to listen on.")
	var listenHTTP = flag.String("listen_http", "", "Override address and port of the HTTP listener.")
	flag.Parse()

	logs.Info.Printf("using config from '%s'", *configfile)

	var config configType
	if file, err := os.Open(*configfile); err != nil {
		logs.Error.Fatal("failed to read config file:", err)
	} else {
		jr := jsonco.New(file)
		if err = json.NewDecoder(jr).Decode(&config); err != nil {
			switch jerr := err.(type) {
			case *json.UnmarshalTypeError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Error.Fatalf("unmarshal error in config file in %s at %d:%d (offset %d bytes): %s",
					jerr.Field, lnum, cnum, jerr.Offset, jerr.Error())
			case *json.SyntaxError:
				lnum, cnum, _ := jr.LineAndChar(jerr.Offset)
				logs.Error.Fatalf("syntax error in config file at %d:%d (offset %d bytes): %s",
					lnum, cnum, jerr.Offset, jerr.Error())
			default:
				logs.Error.Fatal("failed to parse config file:", err)
			}
		}
		file.Close()
	}

	if *listenOn != "" {
		config.Listen = *listenOn
	}
	if *listenHTTP != "" {
		config.ListenHTTP = *listenHTTP
	}
	if config.WorkerId <= 0 {
		config.WorkerId = 1
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaultNumWorkers
	}

	if err := store.Store.Open(config.WorkerId, config.StoreConfig); err != nil {
		logs.Error.Fatal("failed to open store:", err)
	}
	logs.Info.Printf("opened '%s' store", store.Store.GetAdapterName())

	globals.serverId = store.ServerUid(config.WorkerId)
	globals.allowCreatorHandoff = config.Permissions.AllowCreatorHandoff == nil ||
		*config.Permissions.AllowCreatorHandoff
	globals.pool = concurrency.NewGoRoutinePool(config.NumWorkers)
	globals.snapshotLock = concurrency.NewSimpleMutex()
	globals.shutdown = make(chan struct{})

	mux := http.NewServeMux()
	statsRegisterInt("LiveSessions")
	statsRegisterInt("TotalSessions")
	statsRegisterInt("RequestsOk")
	statsRegisterInt("RequestsFailed")
	statsRegisterInt("RequestsUnknown")
	statsRegisterInt("RelayConnected")
	statsRegisterInt("RelayCyclesCompleted")
	statsRegisterInt("RelayBundlesMerged")
	statsRegisterInt("RelayWritesFailed")
	statsRegisterInt("SnapshotsCompleted")
	statsRegisterInt("SnapshotsFailed")
	statsInit(mux, config.ExpvarPath)

	dispatchInit()

	globals.relay = relayInit(config.Relay)

	snapshotInterval := time.Duration(config.SnapshotInterval) * time.Second
	if snapshotInterval <= 0 {
		snapshotInterval = defaultSnapshotInterval
	}
	go snapshotLoop(snapshotInterval)

	lis, err := net.Listen("tcp", config.Listen)
	if err != nil {
		logs.Error.Fatal("failed to listen:", err)
	}
	logs.Info.Printf("listening for client requests on [%s]", config.Listen)
	go serveTCP(lis)

	var httpSrv *http.Server
	if config.ListenHTTP != "" {
		mux.HandleFunc("/v0/channels", serveWebSocket)
		httpSrv = &http.Server{
			Addr:    config.ListenHTTP,
			Handler: handlers.CombinedLoggingHandler(os.Stdout, mux),
		}
		logs.Info.Printf("listening for websocket clients on [%s]", config.ListenHTTP)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logs.Error.Println("http server failed:", err)
			}
		}()
	}

	waitForSignal()

	logs.Info.Println("shutting down...")
	close(globals.shutdown)
	lis.Close()
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		httpSrv.Shutdown(ctx)
		cancel()
	}
	if globals.relay != nil {
		globals.relay.shutdown()
	}
	globals.pool.Stop()
	statsShutdown()
	if err := store.Store.Close(); err != nil {
		logs.Error.Println("failed to close store:", err)
	}
	logs.Info.Println("all done, good bye")
}

// snapshotLoop periodically persists the full model state. A failed
// snapshot is logged and retried on the next tick.
func snapshotLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !globals.snapshotLock.TryLock() {
				// Previous snapshot is still being written.
				continue
			}
			if err := store.Store.Snapshot(); err != nil {
				logs.Warning.Println("snapshot failed:", err)
				statsInc("SnapshotsFailed", 1)
			} else {
				statsInc("SnapshotsCompleted", 1)
			}
			globals.snapshotLock.Unlock()
		case <-globals.shutdown:
			return
		}
	}
}
