// Command supvtop is a terminal dashboard for cmd/echosvc: it connects to
// its websocket control port, polls get_status/list_children, and prints
// the raw JSON results as plain text, taking keyboard commands in raw mode
// to suspend/resume the worker.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/lguibr/asciiring/helpers"
	"golang.org/x/net/websocket"
	"golang.org/x/sys/unix"
)

type controlFrame struct {
	Op      string      `json:"op"`
	Payload interface{} `json:"payload,omitempty"`
}

type controlReply struct {
	Ok     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func setRawMode(fd uintptr) (*unix.Termios, error) {
	saved, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
	if err != nil {
		return nil, err
	}
	restore := *saved
	settings := *saved
	settings.Iflag &^= unix.BRKINT | unix.ICRNL | unix.INPCK | unix.ISTRIP | unix.IXON
	settings.Oflag &^= unix.OPOST
	settings.Lflag &^= unix.ECHO | unix.ICANON | unix.IEXTEN | unix.ISIG
	settings.Cflag &^= unix.CSIZE | unix.PARENB
	settings.Cflag |= unix.CS8
	settings.Oflag |= unix.ONLCR
	if err := unix.IoctlSetTermios(int(fd), unix.TCSETS, &settings); err != nil {
		return nil, err
	}
	return &restore, nil
}

func call(ws *websocket.Conn, op string) (controlReply, error) {
	if err := websocket.JSON.Send(ws, controlFrame{Op: op}); err != nil {
		return controlReply{}, err
	}
	var reply controlReply
	if err := websocket.JSON.Receive(ws, &reply); err != nil {
		return controlReply{}, err
	}
	return reply, nil
}

func render(status, children controlReply) {
	helpers.ClearScreen()
	fmt.Println("supvtop — echosvc dashboard")
	fmt.Println("----------------------------")
	if status.Ok {
		fmt.Printf("worker status: %s\n", string(status.Result))
	} else {
		fmt.Printf("worker status: error: %s\n", status.Error)
	}
	if children.Ok {
		fmt.Printf("children:      %s\n", string(children.Result))
	} else {
		fmt.Printf("children:      error: %s\n", children.Error)
	}
	fmt.Println("----------------------------")
	fmt.Println("[s] suspend  [r] resume  [q] quit")
}

func main() {
	addr := "ws://localhost:8080/control"
	if v := os.Getenv("ECHOSVC_ADDR"); v != "" {
		addr = v
	}

	ws, err := websocket.Dial(addr, "", "http://localhost/")
	if err != nil {
		fmt.Println("error connecting to echosvc:", err)
		return
	}
	defer ws.Close()

	saved, err := setRawMode(os.Stdin.Fd())
	if err != nil {
		fmt.Println("error setting raw mode:", err)
		return
	}
	restore := func() { unix.IoctlSetTermios(int(os.Stdin.Fd()), unix.TCSETS, saved) }
	defer restore()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	go func() {
		<-interrupts
		restore()
		os.Exit(0)
	}()

	keys := make(chan byte, 1)
	go func() {
		buf := make([]byte, 1)
		for {
			if _, err := os.Stdin.Read(buf); err != nil {
				return
			}
			keys <- buf[0]
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case key := <-keys:
			switch key {
			case 's', 'S':
				call(ws, "suspend")
			case 'r', 'R':
				call(ws, "resume")
			case 'q', 'Q', 'c', 'C':
				fmt.Println("quitting supvtop")
				return
			}
		case <-ticker.C:
		}

		status, _ := call(ws, "get_status")
		children, _ := call(ws, "list_children")
		render(status, children)
	}
}
