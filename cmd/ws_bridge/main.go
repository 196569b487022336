package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// message is one frame sent to the browser. Type is "stdout", "stderr" or
// "exit"; for "exit" Data holds the process status.
type message struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// bridge starts one agent process per websocket connection and relays its
// stdin and output lines.
type bridge struct {
	command []string
}

func main() {
	addr := flag.String("addr", ":8080", "Address to listen on")
	flag.Parse()

	command := flag.Args()
	if len(command) == 0 {
		command = []string{"ollama-code"}
	}

	http.Handle("/ws", &bridge{command: command})
	fmt.Printf("WebSocket server running on ws://localhost%s/ws (command: %v)\n", *addr, command)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (b *bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Cancelling ctx kills the agent when the browser goes away.
	cmd := exec.CommandContext(ctx, b.command[0], b.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		slog.Error("stdin pipe", "error", err)
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		slog.Error("stdout pipe", "error", err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		slog.Error("stderr pipe", "error", err)
		return
	}
	if err := cmd.Start(); err != nil {
		slog.Error("failed to start agent", "command", b.command, "error", err)
		return
	}
	slog.Info("agent started", "pid", cmd.Process.Pid, "remote", r.RemoteAddr)

	// gorilla/websocket allows one concurrent writer.
	var writeMu sync.Mutex
	send := func(m message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(m)
	}

	var pipes sync.WaitGroup
	pipe := func(kind string, r io.Reader) {
		defer pipes.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if err := send(message{Type: kind, Data: scanner.Text()}); err != nil {
				slog.Warn("websocket write failed", "error", err)
				cancel()
				return
			}
		}
	}
	pipes.Add(2)
	go pipe("stdout", stdout)
	go pipe("stderr", stderr)

	// Report the exit once all output has been relayed, then drop the
	// connection so the read loop below returns.
	go func() {
		pipes.Wait()
		status := "0"
		if err := cmd.Wait(); err != nil {
			status = err.Error()
		}
		slog.Info("agent exited", "pid", cmd.Process.Pid, "status", status)
		send(message{Type: "exit", Data: status})
		conn.Close()
	}()

	// Pipe WebSocket messages → agent stdin
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			slog.Info("websocket closed", "error", err)
			return
		}
		if _, err := stdin.Write(append(msg, '\n')); err != nil {
			slog.Warn("stdin write failed", "error", err)
			return
		}
	}
}
