package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/engine"
	"github.com/parthpatel-tatvasoft2/Chronicle-Engine/wire"
)

const ChronicledVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Chronicle engine daemon.

Serves the asset tree over the framed document protocol and replicates
the named assets to every peer.

Usage:
    chronicled serve --identifier=<id> [--addr=<addr>] [--ws_addr=<addr>]
        [--peer=<addr>...]
        [--replicate=<asset>...]
        [--store=<dir>]
        [--codec=<codec>]
        [--verbose...]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --identifier=<id>      Node identifier, unique in the replica set (0..127).
    --addr=<addr>          TCP listen address [default: :8088].
    --ws_addr=<addr>       Optional WebSocket listen address.
    --peer=<addr>          Remote peer address; repeatable.
    --replicate=<asset>    Replicated asset path, e.g. /m; repeatable.
    --store=<dir>          Persist to a badger dir instead of memory.
    --codec=<codec>        Wire codec, binary or text [default: binary].
    -v --verbose           Verbose logging; repeat for more.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ChronicledVersion)
	if err != nil {
		panic(err)
	}

	if serve_, _ := opts.Bool("serve"); serve_ {
		serve(opts)
	}
}

func serve(opts docopt.Opts) {
	initGlog(opts)

	identifierStr, _ := opts.String("--identifier")
	identifier, err := strconv.Atoi(identifierStr)
	if err != nil || identifier < 0 || 127 < identifier {
		Err.Fatalf("bad --identifier %q", identifierStr)
	}

	addr, _ := opts.String("--addr")
	settings := engine.DefaultNodeSettings(byte(identifier), addr)
	settings.UserId = fmt.Sprintf("chronicled-%d", identifier)

	if wsAddr, err := opts.String("--ws_addr"); err == nil {
		settings.WsAddr = wsAddr
	}
	if peers, ok := opts["--peer"].([]string); ok {
		settings.Peers = peers
	}
	if assets, ok := opts["--replicate"].([]string); ok {
		for _, asset := range assets {
			if !strings.HasPrefix(asset, "/") {
				asset = "/" + asset
			}
			settings.ReplicatedAssets = append(settings.ReplicatedAssets, asset)
		}
	}

	if codecName, err := opts.String("--codec"); err == nil {
		codec, ok := wire.CodecByName(codecName)
		if !ok {
			Err.Fatalf("unknown codec %q", codecName)
		}
		settings.ServerSettings.ChannelSettings.Codec = codec
	}

	if storeDir, err := opts.String("--store"); err == nil && storeDir != "" {
		root, err := engine.OpenBadgerStore(storeDir)
		if err != nil {
			Err.Fatalf("open store %s: %s", storeDir, err)
		}
		defer root.Close()
		settings.AssetTreeSettings = engine.BadgerAssetTreeSettings(root)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node := engine.NewNode(ctx, settings)
	node.Start()
	defer node.Close()

	Out.Printf("chronicled %s listening on %s identifier=%d peers=%v\n",
		ChronicledVersion, addr, identifier, settings.Peers)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	Out.Printf("shutting down\n")
}

func initGlog(opts docopt.Opts) {
	flag.CommandLine.Parse([]string{})
	flag.Set("logtostderr", "true")
	if verbose, ok := opts["--verbose"].(int); ok && 0 < verbose {
		flag.Set("v", strconv.Itoa(verbose))
	}
}
