// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"fmt"
	applog "locator/internal/log"
	"locator/internal/tdoa"
	"sync"
	"time"
)

// SnapshotSource exposes the latest published snapshot. tdoa.Engine and
// tdoa.Scheduler implement it.
type SnapshotSource interface {
	Snapshot() *tdoa.Snapshot
}

// Publisher polls a SnapshotSource at its own interval and sends each new
// snapshot as one datagram. It runs in a separate goroutine managed by Start
// and Stop, so the UDP rate is independent of the tick rate.
type Publisher struct {
	sender   *UDPSender
	source   SnapshotSource
	interval time.Duration

	ticker   *time.Ticker   // Ticker that triggers packet sending.
	doneChan chan struct{}  // Channel used to signal the publisher goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the publisher goroutine to finish during Stop.
	mu       sync.Mutex     // Protects access to ticker and doneChan during Start/Stop.

	lastSeq      uint64
	sent         uint64
	packetBuffer *bytes.Buffer // Reused for every packet.
}

// NewPublisher creates a Publisher. An interval <= 0 defaults to 33ms.
func NewPublisher(interval time.Duration, sender *UDPSender, source SnapshotSource) (*Publisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("UDPPublisher: snapshot source cannot be nil")
	}
	if interval <= 0 {
		interval = 33 * time.Millisecond
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}

	applog.Infof("UDPPublisher: Initializing (Interval: %s, Target: %s)", interval, sender.Target())
	return &Publisher{
		sender:       sender,
		source:       source,
		interval:     interval,
		packetBuffer: bytes.NewBuffer(make([]byte, 0, HeaderSize+8*EntrySize)),
	}, nil
}

// Start begins the periodic publishing process. Calling Start on a running
// Publisher is a no-op.
func (p *Publisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Infof("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.publish()
			case <-doneChan:
				applog.Infof("UDPPublisher: Publisher goroutine received stop signal.")
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to
// exit. It is safe to call Stop multiple times.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		applog.Debugf("UDPPublisher: Stop called but not running.")
		return nil
	}

	p.stopOnce.Do(func() {
		applog.Infof("UDPPublisher: Initiating stop sequence...")
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("UDPPublisher: Publisher goroutine finished (%d packets sent).", p.sent)
	return nil
}

// publish sends the latest snapshot unless it was already sent. It returns
// whether a packet went out.
func (p *Publisher) publish() bool {
	snap := p.source.Snapshot()
	if snap == nil || snap.Seq == p.lastSeq {
		return false
	}
	p.lastSeq = snap.Seq

	if err := Encode(p.packetBuffer, snap); err != nil {
		applog.Errorf("UDPPublisher: %v", err)
		return false
	}
	packet := p.packetBuffer.Bytes()
	if err := p.sender.Send(packet); err != nil {
		// The sender already logged the failure.
		return false
	}
	p.sent++
	applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", snap.Seq, len(packet))
	return true
}

// Close stops the publisher and closes its sender.
func (p *Publisher) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	return p.sender.Close()
}

var _ interface{ Close() error } = (*Publisher)(nil)
