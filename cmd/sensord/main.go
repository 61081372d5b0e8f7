package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"

	"github.com/homesense/sensord/agent"
	"github.com/homesense/sensord/internal/state"
	"github.com/homesense/sensord/log2"
)

var BuildVersion string = "unknown" // set by ldflags -X

func main() {
	flagConfig := flag.String("config", "sensord.hcl", "")
	flagLogDebug := flag.Bool("log-debug", false, "")
	flag.Parse()

	logLevel := log2.LInfo
	if *flagLogDebug {
		logLevel = log2.LDebug
	}
	log := log2.NewStderr(logLevel)
	if sdnotify("start") {
		// under systemd, journal already stamps lines
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.Infof("sensord version=%s", BuildVersion)

	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	cfg := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	g.MustInit(ctx, cfg)

	a, err := agent.New(ctx)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigch
		log.Infof("signal=%v stopping", sig)
		sdnotify(daemon.SdNotifyStopping)
		g.Stop()
	}()

	sdnotify(daemon.SdNotifyReady)
	log.Debugf("init complete, running")
	a.Run()
	a.Close()
	g.Alive.Wait()
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		os.Stderr.WriteString("sdnotify: " + errors.ErrorStack(err) + "\n")
		os.Exit(1)
	}
	return ok
}
