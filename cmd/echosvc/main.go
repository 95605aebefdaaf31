// Command echosvc runs a tiny supervised actor system (one supervisor,
// one echo worker) behind a websocket control port, giving the
// process/actor/supervisor packages' call and system-message operations
// an external, OTP-style operator surface.
package main

import (
	"fmt"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"

	"github.com/lguibr/actorforge/actor"
	"github.com/lguibr/actorforge/process"
	"github.com/lguibr/actorforge/supervisor"
)

const defaultPort = "8080"

const callTimeout = 2 * time.Second

// newMux wires a fresh actor system, echo worker, and supervisor behind a
// *http.ServeMux, without binding a listener. main and the package's tests
// share this so the control protocol is exercised the same way in both.
func newMux() *http.ServeMux {
	sys := process.NewSystem()

	handle := &echoHandle{}
	restarts := &atomic.Int32{}

	echoSpec := supervisor.Worker[supervisor.Unit, supervisor.Unit, EchoMsg]("echo", startEcho(handle, restarts)).Build()
	supPid, supSubject, err := supervisor.Start(sys, process.Pid{}, supervisor.DefaultOptions(), func(c *supervisor.Children) *supervisor.Children {
		return c.Add(echoSpec)
	})
	if err != nil {
		panic(fmt.Sprintf("failed to start supervisor: %v", err))
	}
	fmt.Printf("supervisor started with PID: %s\n", supPid)

	dispatch := func(callerPid process.Pid, callerMB *process.Mailbox, frame controlFrame) controlReply {
		if frame.Op == "list_children" {
			snapshot, err := supervisor.ListChildren(sys, supSubject, callerPid, callerMB, callTimeout)
			if err != nil {
				return controlReply{Error: err.Error()}
			}
			return controlReply{Ok: true, Result: snapshot}
		}
		return dispatchControl(sys, handle, callerPid, callerMB, frame)
	}

	mux := http.NewServeMux()
	mux.Handle("/control", websocket.Handler(handleControl(sys, dispatch)))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "echosvc ok")
	})
	return mux
}

func main() {
	fmt.Println("actorforge system created.")
	mux := newMux()

	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
		fmt.Printf("PORT environment variable not set, defaulting to %s\n", port)
	}

	listenAddr := ":" + port
	fmt.Printf("echosvc listening on %s\n", listenAddr)
	if err := http.ListenAndServe(listenAddr, mux); err != nil {
		fmt.Println("server stopped:", err)
	}
}

type controlFrame struct {
	Op      string      `json:"op"`
	Payload interface{} `json:"payload,omitempty"`
}

type controlReply struct {
	Ok     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// handleControl returns the websocket handler for /control. Each
// connection registers its own caller Pid/Mailbox: process.Mailbox's
// Select is documented as single-owner-receiver (process/mailbox.go:14),
// so sharing one registered caller across concurrent connection
// goroutines would race on the same mailbox and could drop a reply wake
// under concurrent Selects.
func handleControl(sys *process.System, dispatch func(process.Pid, *process.Mailbox, controlFrame) controlReply) func(*websocket.Conn) {
	return func(ws *websocket.Conn) {
		fmt.Printf("control connection opened: %s\n", ws.RemoteAddr())
		defer ws.Close()

		callerPid, callerMB, release := sys.RegisterCaller()
		defer release()

		for {
			var frame controlFrame
			if err := websocket.JSON.Receive(ws, &frame); err != nil {
				fmt.Printf("control connection closed: %s (%v)\n", ws.RemoteAddr(), err)
				return
			}

			reply := dispatch(callerPid, callerMB, frame)
			if err := websocket.JSON.Send(ws, reply); err != nil {
				fmt.Printf("failed to send control reply to %s: %v\n", ws.RemoteAddr(), err)
				return
			}
		}
	}
}

func dispatchControl(sys *process.System, handle *echoHandle, callerPid process.Pid, callerMB *process.Mailbox, frame controlFrame) controlReply {
	pid, subject := handle.get()
	if pid.IsZero() {
		return controlReply{Error: "echo worker not available"}
	}

	switch frame.Op {
	case "echo":
		result, err := process.TryCall(sys, callerPid, callerMB, subject, func(from process.From[interface{}]) EchoMsg {
			return EchoMsg{payload: frame.Payload, from: from}
		}, callTimeout)
		if err != nil {
			return controlReply{Error: err.Error()}
		}
		return controlReply{Ok: true, Result: result}

	case "get_status":
		status, ok := actor.GetStatusOf(sys, pid, callerPid, callerMB, callTimeout)
		if !ok {
			return controlReply{Error: "get_status timed out"}
		}
		return controlReply{Ok: true, Result: map[string]interface{}{
			"module":   status.Module,
			"mode":     status.Mode.String(),
			"restarts": status.Restarts,
			"state":    status.State,
		}}

	case "suspend":
		if !actor.SuspendOf(sys, pid, callerPid, callerMB, callTimeout) {
			return controlReply{Error: "suspend timed out"}
		}
		return controlReply{Ok: true}

	case "resume":
		if !actor.ResumeOf(sys, pid, callerPid, callerMB, callTimeout) {
			return controlReply{Error: "resume timed out"}
		}
		return controlReply{Ok: true}

	default:
		return controlReply{Error: fmt.Sprintf("unknown op %q", frame.Op)}
	}
}
