package monitor

import (
	"context"
	"sync"
)

type op int

const (
	opIsDone op = iota
	opNotifyDone
	opWait
	opNotifyError
	opGetError
	opNotifyExpectedJobs
	opDecrement
)

type request struct {
	op    op
	id    ID
	err   error
	n     int
	reply chan response
}

type response struct {
	done bool
	err  error
	n    int
	wait <-chan struct{}
}

// Host owns a Table and serves it from a single goroutine. Execution units
// never touch the table; they talk to the host through a Proxy.
type Host struct {
	table *Table
	reqs  chan request

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	exited  chan struct{}
}

// NewHost creates a host for table. Call Start before handing out proxies.
func NewHost(table *Table) *Host {
	if table == nil {
		table = NewTable()
	}
	return &Host{
		table:  table,
		reqs:   make(chan request),
		stopCh: make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Start begins serving requests.
func (h *Host) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.stopped {
		return
	}
	h.started = true
	go h.serve()
}

// Stop stops serving and waits for the serving goroutine to exit. Proxies
// keep answering reads from the retained table afterwards.
func (h *Host) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true
	started := h.started
	h.mu.Unlock()

	close(h.stopCh)
	if started {
		<-h.exited
	} else {
		close(h.exited)
	}
}

// Proxy returns a Monitor that reaches this host.
func (h *Host) Proxy() *Proxy {
	return &Proxy{host: h}
}

func (h *Host) serve() {
	defer close(h.exited)
	for {
		select {
		case req := <-h.reqs:
			req.reply <- h.handle(req)
		case <-h.stopCh:
			return
		}
	}
}

func (h *Host) handle(req request) response {
	switch req.op {
	case opIsDone:
		return response{done: h.table.IsDone(req.id)}
	case opNotifyDone:
		h.table.NotifyDone(req.id)
	case opWait:
		return response{wait: h.table.doneChan(req.id)}
	case opNotifyError:
		h.table.NotifyError(req.id, req.err)
	case opGetError:
		return response{err: h.table.GetError(req.id)}
	case opNotifyExpectedJobs:
		h.table.NotifyExpectedJobs(req.id, req.n)
	case opDecrement:
		return response{n: h.table.DecrementJobComplete(req.id)}
	}
	return response{}
}

// Proxy is the location-transparent Monitor handed to execution units.
// It is safe for concurrent use.
type Proxy struct {
	host *Host
}

var _ Monitor = (*Proxy)(nil)

// call sends req to the host. It reports false when the host has stopped.
func (p *Proxy) call(req request) (response, bool) {
	req.reply = make(chan response, 1)
	select {
	case p.host.reqs <- req:
		return <-req.reply, true
	case <-p.host.exited:
		return response{}, false
	}
}

// IsDone implements Monitor.
func (p *Proxy) IsDone(id ID) bool {
	resp, ok := p.call(request{op: opIsDone, id: id})
	if !ok {
		return p.host.table.IsDone(id)
	}
	return resp.done
}

// NotifyDone implements Monitor.
func (p *Proxy) NotifyDone(id ID) {
	p.call(request{op: opNotifyDone, id: id})
}

// PollForResult implements Monitor.
func (p *Proxy) PollForResult(ctx context.Context, id ID) error {
	resp, ok := p.call(request{op: opWait, id: id})
	if !ok {
		return p.host.table.PollForResult(ctx, id)
	}
	select {
	case <-resp.wait:
		return p.GetError(id)
	default:
	}
	select {
	case <-resp.wait:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.GetError(id)
}

// NotifyError implements Monitor.
func (p *Proxy) NotifyError(id ID, err error) {
	p.call(request{op: opNotifyError, id: id, err: err})
}

// GetError implements Monitor.
func (p *Proxy) GetError(id ID) error {
	resp, ok := p.call(request{op: opGetError, id: id})
	if !ok {
		return p.host.table.GetError(id)
	}
	return resp.err
}

// NotifyExpectedJobs implements Monitor.
func (p *Proxy) NotifyExpectedJobs(id ID, n int) {
	p.call(request{op: opNotifyExpectedJobs, id: id, n: n})
}

// DecrementJobComplete implements Monitor. Once the host has stopped the
// count can no longer change, and the result is -1 with no effect.
func (p *Proxy) DecrementJobComplete(id ID) int {
	resp, ok := p.call(request{op: opDecrement, id: id})
	if !ok {
		return -1
	}
	return resp.n
}
