package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/docopt/docopt-go"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/engine"
	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

const ChronictlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Chronicle engine control.

Talks the framed document protocol to a chronicled server.

Usage:
    chronictl put <map> <key> <value> [options]
    chronictl get <map> <key> [options]
    chronictl remove <map> <key> [options]
    chronictl size <map> [options]
    chronictl keys <map> [options]
    chronictl watch <map> [options]
    chronictl publish <topic_path> <topic> <message> [options]
    chronictl listen <topic_path> [options]
    chronictl mint-token --user=<user>

Options:
    -h --help            Show this screen.
    --version            Show version.
    --addr=<addr>        Server address, host:port or ws:// url [default: 127.0.0.1:8088].
    --codec=<codec>      Wire codec, binary or text [default: binary].
    --user=<user>        User name for the session handshake [default: chronictl].
    --token              Prompt for a secret and handshake with a signed session token.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ChronictlVersion)
	if err != nil {
		panic(err)
	}

	flag.CommandLine.Parse([]string{})
	flag.Set("logtostderr", "true")

	if mintToken_, _ := opts.Bool("mint-token"); mintToken_ {
		mintToken(opts)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := connect(ctx, opts)
	defer hub.Close()

	switch {
	case command(opts, "put"):
		m := remoteMap(hub, opts)
		if err := m.Put(argBytes(opts, "<key>"), argBytes(opts, "<value>")); err != nil {
			Err.Fatalf("put: %s", err)
		}
	case command(opts, "get"):
		m := remoteMap(hub, opts)
		value, ok, err := m.Get(argBytes(opts, "<key>"))
		if err != nil {
			Err.Fatalf("get: %s", err)
		}
		if !ok {
			Out.Printf("(null)\n")
		} else {
			Out.Printf("%s\n", value)
		}
	case command(opts, "remove"):
		m := remoteMap(hub, opts)
		if err := m.Remove(argBytes(opts, "<key>")); err != nil {
			Err.Fatalf("remove: %s", err)
		}
	case command(opts, "size"):
		m := remoteMap(hub, opts)
		size, err := m.Size()
		if err != nil {
			Err.Fatalf("size: %s", err)
		}
		Out.Printf("%d\n", size)
	case command(opts, "keys"):
		m := remoteMap(hub, opts)
		keySet, err := m.KeySet()
		if err != nil {
			Err.Fatalf("keys: %s", err)
		}
		err = keySet.ForEach(func(v wire.Value) {
			Out.Printf("%s\n", printable(v.Bytes))
		})
		if err != nil {
			Err.Fatalf("keys: %s", err)
		}
	case command(opts, "watch"):
		m := remoteMap(hub, opts)
		sub, err := m.Subscribe(func(e *engine.MapEvent) {
			switch e.Type {
			case engine.MapEventInsert:
				Out.Printf("insert %s = %s\n", printable(e.Key), printable(e.Value))
			case engine.MapEventUpdate:
				Out.Printf("update %s = %s (was %s)\n", printable(e.Key), printable(e.Value), printable(e.OldValue))
			case engine.MapEventRemove:
				Out.Printf("remove %s (was %s)\n", printable(e.Key), printable(e.OldValue))
			}
		})
		if err != nil {
			Err.Fatalf("watch: %s", err)
		}
		defer sub.Close()
		waitForInterrupt()
	case command(opts, "publish"):
		topicPath, _ := opts.String("<topic_path>")
		topic, _ := opts.String("<topic>")
		message, _ := opts.String("<message>")
		remoteTopic := engine.NewRemoteTopic(hub, topicPath)
		if err := remoteTopic.Publish(topic, wire.RequireProtoValue(wrapperspb.String(message))); err != nil {
			Err.Fatalf("publish: %s", err)
		}
	case command(opts, "listen"):
		topicPath, _ := opts.String("<topic_path>")
		remoteTopic := engine.NewRemoteTopic(hub, topicPath)
		sub, err := remoteTopic.Subscribe(func(topic string, message wire.Value) {
			if m, err := wire.AsProto(message); err == nil {
				if s, ok := m.(*wrapperspb.StringValue); ok {
					Out.Printf("%s: %s\n", topic, s.Value)
					return
				}
			}
			Out.Printf("%s: %v\n", topic, message)
		}, func() {
			Out.Printf("(end of subscription)\n")
		})
		if err != nil {
			Err.Fatalf("listen: %s", err)
		}
		defer sub.Close()
		waitForInterrupt()
	}
}

func command(opts docopt.Opts, name string) bool {
	b, _ := opts.Bool(name)
	return b
}

func connect(ctx context.Context, opts docopt.Opts) *engine.ChannelHub {
	addr, _ := opts.String("--addr")
	codecName, _ := opts.String("--codec")
	codec, ok := wire.CodecByName(codecName)
	if !ok {
		Err.Fatalf("unknown codec %q", codecName)
	}

	userId, _ := opts.String("--user")
	if token_, _ := opts.Bool("--token"); token_ {
		fmt.Fprint(os.Stderr, "secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Err.Fatalf("read secret: %s", err)
		}
		userId, err = engine.MintSessionToken(userId, secret)
		if err != nil {
			Err.Fatalf("mint token: %s", err)
		}
	}

	settings := engine.DefaultChannelSettings()
	settings.Codec = codec
	eventLoop := engine.NewEventLoopWithDefaults(ctx)
	return engine.NewChannelHub(ctx, addr, userId, eventLoop, settings)
}

func remoteMap(hub *engine.ChannelHub, opts docopt.Opts) *engine.RemoteMap {
	name, _ := opts.String("<map>")
	return engine.NewRemoteMap(hub, name)
}

func mintToken(opts docopt.Opts) {
	userId, _ := opts.String("--user")
	fmt.Fprint(os.Stderr, "secret: ")
	secret, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		Err.Fatalf("read secret: %s", err)
	}
	token, err := engine.MintSessionToken(userId, secret)
	if err != nil {
		Err.Fatalf("mint token: %s", err)
	}
	Out.Printf("%s\n", token)
}

func argBytes(opts docopt.Opts, name string) []byte {
	s, _ := opts.String(name)
	return []byte(s)
}

func printable(b []byte) string {
	for _, c := range b {
		if c < 0x20 || 0x7e < c {
			return "0x" + hex.EncodeToString(b)
		}
	}
	return string(b)
}

func waitForInterrupt() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

