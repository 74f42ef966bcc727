package capture

import (
	"log/slog"
	"strings"
	"sync"
)

// responseEvent is the collector's view of one finished network response.
type responseEvent struct {
	requestID   string
	url         string
	status      int
	contentType string
}

// bodyFunc reads the body of a finished response. Implementations own the
// read timeout.
type bodyFunc func(requestID string) ([]byte, error)

// harvester drains response events from the browser driver through a
// bounded channel: the ListenTarget callback is the only producer and run()
// the only consumer, so nothing mutates the resource set from inside the
// event handler.
type harvester struct {
	events    chan responseEvent
	done      chan struct{}
	drained   chan struct{}
	stopOnce  sync.Once
	fetchBody bodyFunc
	maxBytes  int

	mu        sync.Mutex
	seen      map[string]bool
	resources []Resource
}

func newHarvester(fetchBody bodyFunc, maxBytes int) *harvester {
	h := &harvester{
		events:    make(chan responseEvent, 512),
		done:      make(chan struct{}),
		drained:   make(chan struct{}),
		fetchBody: fetchBody,
		maxBytes:  maxBytes,
		seen:      make(map[string]bool),
	}
	go h.run()
	return h
}

// observe enqueues a finished response without blocking the CDP event
// handler. A full queue drops the event; a dropped sub-resource degrades
// the capture, never aborts it.
func (h *harvester) observe(ev responseEvent) {
	select {
	case h.events <- ev:
	case <-h.done:
	default:
		slog.Debug("harvest queue full, response dropped", "url", ev.url)
	}
}

func (h *harvester) run() {
	defer close(h.drained)
	for {
		select {
		case ev := <-h.events:
			h.collect(ev)
		case <-h.done:
			// drain what is already queued before finishing
			for {
				select {
				case ev := <-h.events:
					h.collect(ev)
				default:
					return
				}
			}
		}
	}
}

func (h *harvester) collect(ev responseEvent) {
	if ev.status >= 300 || ev.status < 200 {
		return
	}
	if strings.HasPrefix(ev.url, "data:") {
		return
	}

	h.mu.Lock()
	dup := h.seen[ev.url]
	if !dup {
		h.seen[ev.url] = true
	}
	h.mu.Unlock()
	if dup {
		return
	}

	body, err := h.fetchBody(ev.requestID)
	if err != nil {
		slog.Debug("response body read failed", "url", ev.url, "error", err)
		return
	}
	if len(body) == 0 {
		return
	}
	if h.maxBytes > 0 && len(body) > h.maxBytes {
		slog.Warn("resource exceeds size ceiling, dropped", "url", ev.url, "size", len(body), "max_bytes", h.maxBytes)
		return
	}

	h.mu.Lock()
	h.resources = append(h.resources, Resource{URL: ev.url, Content: body, ContentType: ev.contentType})
	h.mu.Unlock()
}

// stop ends collection and returns everything harvested so far. Safe to
// call more than once; the session Close path and the capture pipeline may
// both reach it.
func (h *harvester) stop() []Resource {
	h.stopOnce.Do(func() { close(h.done) })
	<-h.drained

	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Resource, len(h.resources))
	copy(out, h.resources)
	return out
}
