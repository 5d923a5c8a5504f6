/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package daemon runs one PTP port over a real network transport and clock.

Receive goroutines push messages into a channel; a single loop owns the port,
feeding it messages, transmit timestamps and ticks at its next deadline.
*/
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/flexptp/ptpengine/clock"
	"github.com/flexptp/ptpengine/ptp/port"
	ptp "github.com/flexptp/ptpengine/ptp/protocol"
	"github.com/flexptp/ptpengine/ptp/stats"
	"github.com/flexptp/ptpengine/servo"
	"github.com/flexptp/ptpengine/transport"
)

// Clock is what the daemon needs from the disciplined clock
type Clock interface {
	port.Clock
	FrequencyPPB() (float64, error)
}

// queue depth between receivers and the loop
const rxQueue = 128

type txStamp struct {
	h  port.SendHandle
	ts time.Time
}

// network adapts a transport to port.Network. TX timestamps are queued until the loop hands them to the port.
type network struct {
	tr      transport.Transport
	pending []txStamp
}

// Send implements port.Network
func (n *network) Send(p ptp.Packet, event bool) (port.SendHandle, error) {
	h := port.SendHandle{MessageType: p.MessageType(), SequenceID: p.PacketHeader().SequenceID}
	b, err := ptp.Bytes(p)
	if err != nil {
		return h, err
	}
	ts, err := n.tr.Send(b, event)
	if errors.Is(err, transport.ErrNoTimestamp) {
		// sent but not timestamped, the port gives up on the exchange after its tx timeout
		log.Warningf("sending %s: %v", h.MessageType, err)
		return h, nil
	}
	if err != nil {
		return h, err
	}
	if event {
		n.pending = append(n.pending, txStamp{h: h, ts: ts})
	}
	return h, nil
}

func (n *network) take() []txStamp {
	p := n.pending
	n.pending = nil
	return p
}

// Daemon drives one port
type Daemon struct {
	cfg   *Config
	tr    transport.Transport
	clk   Clock
	net   *network
	port  *port.Port
	stats *stats.JSONStats
	srv   servo.Servo
	tunes chan float64

	ticks atomic.Int64
}

// ErrNotTunable is returned when the running servo takes no manual tunings
var ErrNotTunable = errors.New("servo doesn't support tuning")

// ErrTuningPending is returned when the previous tuning wasn't picked up yet
var ErrTuningPending = errors.New("previous tuning is still pending")

// CounterTicks counts loop wakeups on port deadlines
const CounterTicks = "daemon.ticks"

// New creates the daemon on top of the transport and clock
func New(cfg *Config, tr transport.Transport, clk Clock, st *stats.JSONStats) (*Daemon, error) {
	freq, err := clk.FrequencyPPB()
	if err != nil {
		return nil, fmt.Errorf("reading clock frequency: %w", err)
	}
	srv, err := servo.New(cfg.Servo, cfg.ServoConfig, freq)
	if err != nil {
		return nil, fmt.Errorf("creating servo: %w", err)
	}
	d := &Daemon{
		cfg:   cfg,
		tr:    tr,
		clk:   clk,
		net:   &network{tr: tr},
		stats: st,
		srv:   srv,
		tunes: make(chan float64, 1),
	}
	d.port, err = port.New(cfg.Port, d.net, clk, srv, port.LogObserver{}, st)
	if err != nil {
		return nil, err
	}
	d.port.SetFrequency(freq)
	return d, nil
}

// PortIdentity derives port identity from the interface MAC address
func PortIdentity(iface string) (ptp.PortIdentity, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return ptp.PortIdentity{}, err
	}
	cid, err := ptp.NewClockIdentity(ifi.HardwareAddr)
	if err != nil {
		return ptp.PortIdentity{}, fmt.Errorf("%s: %w", iface, err)
	}
	return ptp.PortIdentity{ClockIdentity: cid, PortNumber: 1}, nil
}

// OpenClock opens the clock the config asks for
func OpenClock(cfg *Config) (Clock, error) {
	switch cfg.Clock {
	case ClockPHC:
		return clock.OpenIfacePHC(cfg.Iface)
	case ClockSystem:
		return clock.NewSystem(cfg.AllowSystemStep)
	case ClockFreeRun:
		return clock.NewFreeRunning(), nil
	}
	return nil, fmt.Errorf("unknown clock %q", cfg.Clock)
}

// Open sets up transport, clock and stats from the config
func Open(cfg *Config) (*Daemon, error) {
	if cfg.Port.Identity == (ptp.PortIdentity{}) {
		id, err := PortIdentity(cfg.Iface)
		if err != nil {
			return nil, fmt.Errorf("deriving port identity: %w", err)
		}
		cfg.Port.Identity = id
	}
	clk, err := OpenClock(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening %s clock: %w", cfg.Clock, err)
	}
	tr, err := transport.New(cfg.TransportConfig(), cfg.Port.Profile.Transport)
	if err != nil {
		return nil, fmt.Errorf("opening transport: %w", err)
	}
	d, err := New(cfg, tr, clk, stats.NewJSONStats())
	if err != nil {
		tr.Close()
		return nil, err
	}
	return d, nil
}

// Port returns the port driven by the daemon
func (d *Daemon) Port() *port.Port {
	return d.port
}

func (d *Daemon) now() time.Time {
	now, err := d.clk.Now()
	if err != nil {
		// ticks still need a time base, faults come from Apply
		log.Errorf("reading clock: %v", err)
		return time.Now()
	}
	return now
}

// receive reads from r until the context is done
func receive(ctx context.Context, r transport.Reader, out chan<- transport.Message) error {
	buf := make([]byte, 1500)
	for {
		m, err := r.Read(buf)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if transport.Timeout(err) {
				continue
			}
			if errors.Is(err, transport.ErrNoTimestamp) {
				log.Warningf("dropping message: %v", err)
				continue
			}
			return fmt.Errorf("reading from transport: %w", err)
		}
		m.Data = append([]byte(nil), m.Data...)
		select {
		case out <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// flushTx hands queued TX timestamps to the port. Handling one may send more.
func (d *Daemon) flushTx() {
	for {
		pending := d.net.take()
		if len(pending) == 0 {
			return
		}
		for _, s := range pending {
			d.port.TxTimestamp(s.h, s.ts, d.now())
		}
	}
}

func (d *Daemon) publish() {
	d.stats.SetCounter(CounterTicks, d.ticks.Load())
	d.stats.SetStat(stats.NewStat(d.port.Identity(), d.port.Stats()))
}

// rearm points timer at the next port deadline. With nothing scheduled the
// timer stays stopped and only messages wake the loop.
func (d *Daemon) rearm(timer *time.Timer) bool {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	next := d.port.NextDeadline()
	if next.IsZero() {
		return false
	}
	wait := next.Sub(d.now())
	if wait < 0 {
		wait = 0
	}
	timer.Reset(wait)
	return true
}

// loop owns the port
func (d *Daemon) loop(ctx context.Context, msgs <-chan transport.Message) error {
	if err := d.port.Start(d.now()); err != nil {
		return err
	}
	d.flushTx()
	d.publish()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	d.rearm(timer)
	statsTicker := time.NewTicker(d.cfg.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.port.Disable(d.now())
			d.publish()
			return nil
		case m := <-msgs:
			if err := d.port.HandleRaw(m.Data, m.RX, d.now()); err != nil {
				log.Debugf("handling message: %v", err)
			}
		case <-timer.C:
			d.ticks.Add(1)
			d.port.Tick(d.now())
		case ppb := <-d.tunes:
			d.srv.(servo.Tuner).Tune(ppb)
		case <-statsTicker.C:
			d.publish()
		}
		d.flushTx()
		d.rearm(timer)
	}
}

// Tune queues a one-shot frequency tuning for the loop to hand to the servo
func (d *Daemon) Tune(ppb float64) error {
	if _, ok := d.srv.(servo.Tuner); !ok {
		return ErrNotTunable
	}
	select {
	case d.tunes <- ppb:
		return nil
	default:
		return ErrTuningPending
	}
}

func (d *Daemon) handleTune(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "use POST", http.StatusMethodNotAllowed)
		return
	}
	ppb, err := strconv.ParseFloat(r.URL.Query().Get("ppb"), 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad ppb: %v", err), http.StatusBadRequest)
		return
	}
	if err := d.Tune(ppb); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	log.Infof("tuning %+.4f ppb requested by %s", ppb, r.RemoteAddr)
	w.WriteHeader(http.StatusAccepted)
}

// Handler serves stats plus the /tune endpoint
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", d.stats.Handler())
	mux.HandleFunc("/tune", d.handleTune)
	return mux
}

// RequestTune asks the daemon at url to tune the servo by ppb
func RequestTune(url string, ppb float64) error {
	c := http.Client{Timeout: 2 * time.Second}
	resp, err := c.Post(fmt.Sprintf("%s/tune?ppb=%g", url, ppb), "text/plain", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("tuning rejected: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func (d *Daemon) serveStats(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", d.cfg.MonitoringPort),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Infof("Starting http json server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (d *Daemon) collectSysStats(ctx context.Context) error {
	t := time.NewTicker(d.cfg.StatsInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := d.stats.CollectSysStats(d.cfg.StatsInterval); err != nil {
				log.Warningf("failed to get system metrics %s", err)
			}
		}
	}
}

// Run runs the daemon until ctx is done or something fails
func (d *Daemon) Run(ctx context.Context) error {
	defer d.tr.Close()
	g, ctx := errgroup.WithContext(ctx)
	msgs := make(chan transport.Message, rxQueue)
	for _, r := range d.tr.Readers() {
		r := r
		g.Go(func() error {
			return receive(ctx, r, msgs)
		})
	}
	g.Go(func() error {
		return d.loop(ctx, msgs)
	})
	if d.cfg.MonitoringPort > 0 {
		g.Go(func() error {
			return d.serveStats(ctx)
		})
	}
	g.Go(func() error {
		return d.collectSysStats(ctx)
	})
	return g.Wait()
}
