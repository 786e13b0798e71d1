// Command bdtd runs a standalone BDT stack endpoint: it binds the
// configured UDP/TCP listeners, generates (or would load) a local
// device identity, and serves until interrupted.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"bdt/config"
	"bdt/crypto"
	"bdt/log"
	"bdt/protocol"
	"bdt/stack"
)

func main() {
	conf := flag.String("config", "", "Path to config file")
	udpListen := flag.String("udp", "0.0.0.0:9000", "UDP listen address")
	tcpListen := flag.String("tcp", "0.0.0.0:9000", "TCP listen address")
	flag.Parse()

	if *conf != "" {
		if err := config.Reload(*conf); err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			os.Exit(1)
		}
		log.Reload()
	}

	defer log.Logger.Sync()
	log.Logger.Info("bdt stack starting")

	priv, err := crypto.GenerateKeyPair(2048)
	if err != nil {
		log.Logger.Fatal("generate local key pair", zap.Error(err))
	}
	der, err := priv.Public().DER()
	if err != nil {
		log.Logger.Fatal("encode local public key", zap.Error(err))
	}
	localDesc := &protocol.DeviceDescriptor{
		DeviceId:   protocol.DeviceIdFromPublicKeyDER(der),
		PublicKey:  der,
		UpdateTime: 0,
	}

	udpAddr, err := net.ResolveUDPAddr("udp", *udpListen)
	if err != nil {
		log.Logger.Fatal("resolve udp listen address", zap.Error(err))
	}
	tcpAddr, err := net.ResolveTCPAddr("tcp", *tcpListen)
	if err != nil {
		log.Logger.Fatal("resolve tcp listen address", zap.Error(err))
	}

	s, err := stack.New(stack.Config{
		LocalDesc: localDesc,
		LocalPriv: priv,
		UDPAddr:   udpAddr,
		TCPAddr:   tcpAddr,
	})
	if err != nil {
		log.Logger.Fatal("start bdt stack", zap.Error(err))
	}
	defer s.Close()

	log.Logger.Info("bdt stack running", zap.String("device_id", localDesc.DeviceId.String()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Logger.Info("bdt stack shutting down")
}
