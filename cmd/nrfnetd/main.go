// Command nrfnetd is a reference daemon wiring a Transport to a SQLite
// peer/delivery log and a WebSocket live-monitoring endpoint.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/aarossig/nrfnet/internal/config"
	"github.com/aarossig/nrfnet/internal/monitor"
	"github.com/aarossig/nrfnet/internal/store"
	"github.com/aarossig/nrfnet/link"
	"github.com/aarossig/nrfnet/link/mocklink"
	"github.com/aarossig/nrfnet/transport"
)

func main() {
	configPath := flag.String("config", "nrfnetd.toml", "path to the daemon TOML config")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(*configPath, log); err != nil {
		log.Fatal("nrfnetd: fatal error", zap.Error(err))
	}
}

// daemonHandler adapts transport.EventHandler to publish onto a monitor
// Bus and persist arrivals to the store, so the Transport itself stays
// ignorant of both.
type daemonHandler struct {
	bus *monitor.Bus
	db  *store.DB
	log *zap.Logger
}

func (h *daemonHandler) OnBeaconFailed(status link.TransmitResult) {
	h.log.Debug("nrfnetd: beacon failed", zap.Stringer("result", status))
	h.bus.Publish(monitor.Event{Type: monitor.EventBeaconFailed})
}

func (h *daemonHandler) OnBeaconReceived(address uint32) {
	if err := h.db.RecordBeacon(address, time.Now()); err != nil {
		h.log.Warn("nrfnetd: record beacon", zap.Error(err))
	}
	h.bus.Publish(monitor.Event{Type: monitor.EventBeaconSeen, Address: address})
}

func (h *daemonHandler) OnFrameReceived(address uint32, payload []byte) {
	if err := h.db.RecordDelivery(address, len(payload), time.Now()); err != nil {
		h.log.Warn("nrfnetd: record delivery", zap.Error(err))
	}
	h.bus.Publish(monitor.Event{Type: monitor.EventFrameReceived, Address: address, Length: len(payload)})
}

// noopHandler discards every event from the synthetic peer transport; its
// traffic is only there to give the monitored station something to hear.
type noopHandler struct{}

func (noopHandler) OnBeaconFailed(link.TransmitResult) {}
func (noopHandler) OnBeaconReceived(uint32)            {}
func (noopHandler) OnFrameReceived(uint32, []byte)     {}

func simulatePeerTraffic(peerTr *transport.Transport, targetAddr uint32, sendTimeout time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	var counter uint32
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			payload := []byte{byte(counter), byte(counter >> 8), byte(counter >> 16), byte(counter >> 24)}
			peerTr.Send(targetAddr, payload, sendTimeout)
			counter++
		}
	}
}

// run wires the daemon together and blocks until shutdown. Close errors
// from every owned resource are folded into the returned error.
func run(configPath string, log *zap.Logger) (retErr error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Warn("nrfnetd: using default config", zap.Error(err))
		cfg = config.Default()
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() { retErr = multierr.Append(retErr, db.Close()) }()
	if err := store.Migrate(db); err != nil {
		return err
	}

	bus := monitor.NewBus()

	// The reference deployment has no physical radio wired in. It runs
	// the station under management alongside a synthetic peer over a
	// lossy mock link, so /events has real traffic to show without
	// hardware attached.
	lk := mocklink.New(cfg.StationAddress, 32, mocklink.WithLossRate(0.02))
	peerLk := mocklink.New(cfg.StationAddress^0xFFFFFFFF, 32, mocklink.WithLossRate(0.02))
	mocklink.ConnectLinks(lk, peerLk)

	handler := &daemonHandler{bus: bus, db: db, log: log}
	tcfg := transport.DefaultConfig()
	tcfg.BeaconIntervalUs = uint64(cfg.BeaconInterval.Microseconds())
	tr := transport.New(lk, handler, tcfg, nil, log)
	tr.Start()
	defer func() { retErr = multierr.Append(retErr, tr.Close()) }()

	peerTr := transport.New(peerLk, noopHandler{}, transport.DefaultConfig(), nil, log)
	peerTr.Start()
	defer func() { retErr = multierr.Append(retErr, peerTr.Close()) }()
	stopSim := make(chan struct{})
	go simulatePeerTraffic(peerTr, lk.Address(), cfg.SendTimeout, stopSim)
	defer close(stopSim)

	mux := http.NewServeMux()
	mux.Handle("/events", monitor.NewHandler(bus, log))
	srv := &http.Server{Addr: cfg.MonitorListenAddr, Handler: mux}

	srvErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErrCh <- err
			return
		}
		srvErrCh <- nil
	}()
	log.Info("nrfnetd: monitor listening", zap.String("addr", cfg.MonitorListenAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("nrfnetd: shutting down", zap.Stringer("signal", sig))
	case err := <-srvErrCh:
		retErr = multierr.Append(retErr, err)
	}

	return multierr.Append(retErr, srv.Close())
}
