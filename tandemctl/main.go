/*
Command-line client for a peer's admin API.

	tandemctl [-addr 127.0.0.1:8080] <command> [args]

Commands:

	status                       session summary
	peers                        live peers and the oldest session
	globals                      every global map
	set <kind> <key> <json>      write a global (kind: string, bool, float, vector2, vector3, vector4)
	objects                      every known object
	spawn <template> [x y z]     spawn an object owned by the peer
	despawn <id>                 destroy an object everywhere
	own <id>                     request ownership of an object
	lock <id> <true|false>       lock or unlock an owned object
	events                       stream session events until interrupted
*/
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rflandau/tandem/tandem/admin"
	"github.com/rflandau/tandem/tandem/client"
	"github.com/rflandau/tandem/tandem/spatial"
)

var errUsage = errors.New("usage: tandemctl [-addr ip:port] <status|peers|globals|set|objects|spawn|despawn|own|lock|events> [args]")

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "address of the peer's admin API")
	flag.Parse()

	if err := run(*addr, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr string, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	case "status":
		_, st, err := client.Status(addr)
		return show(st.Body, err)
	case "peers":
		_, pr, err := client.Peers(addr)
		return show(pr.Body, err)
	case "globals":
		_, gr, err := client.Globals(addr)
		return show(gr.Body, err)
	case "set":
		if len(args) != 3 {
			return errUsage
		}
		var v any
		if err := json.Unmarshal([]byte(args[2]), &v); err != nil {
			// bare words are strings
			v = args[2]
		}
		_, err := client.SetGlobal(addr, args[0], args[1], v)
		return err
	case "objects":
		_, objs, err := client.Objects(addr)
		return show(objs.Body, err)
	case "spawn":
		if len(args) != 1 && len(args) != 4 {
			return errUsage
		}
		var pos spatial.Vector3
		if len(args) == 4 {
			var err error
			if pos, err = parseVector3(args[1:]); err != nil {
				return err
			}
		}
		_, sr, err := client.Spawn(addr, args[0], pos)
		return show(sr.Body, err)
	case "despawn":
		if len(args) != 1 {
			return errUsage
		}
		_, err := client.Despawn(addr, args[0])
		return err
	case "own":
		if len(args) != 1 {
			return errUsage
		}
		_, err := client.RequestOwnership(addr, args[0])
		return err
	case "lock":
		if len(args) != 2 {
			return errUsage
		}
		locked, err := strconv.ParseBool(args[1])
		if err != nil {
			return err
		}
		_, err = client.Lock(addr, args[0], locked)
		return err
	case "events":
		return stream(addr)
	}
	return errUsage
}

func show(v any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseVector3(args []string) (spatial.Vector3, error) {
	var f [3]float64
	for i, a := range args {
		var err error
		if f[i], err = strconv.ParseFloat(a, 64); err != nil {
			return spatial.Vector3{}, fmt.Errorf("bad coordinate %q: %w", a, err)
		}
	}
	return spatial.Vector3{X: f[0], Y: f[1], Z: f[2]}, nil
}

// stream prints every event frame until interrupted or the peer closes the stream.
func stream(addr string) error {
	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "ws://")
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+admin.EPEvents, nil)
	if err != nil {
		return err
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		fmt.Println(string(msg))
	}
}
