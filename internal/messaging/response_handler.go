package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/Enkidu/internal/models"
)

// InboundHandler processes one inbound message end to end, including the reply.
type InboundHandler func(ctx context.Context, msg models.InboundMessage) error

// ResponseHandler feeds the inbound messages of a Service into an InboundHandler.
// Messages from one sender are handled one at a time in arrival order; different senders
// are handled concurrently.
type ResponseHandler struct {
	service Service
	handle  InboundHandler
	wg      sync.WaitGroup

	mu      sync.Mutex
	pending map[string][]models.InboundMessage // a key is present while its sender has a worker
}

// NewResponseHandler creates a ResponseHandler for service.
func NewResponseHandler(service Service, handle InboundHandler) *ResponseHandler {
	return &ResponseHandler{
		service: service,
		handle:  handle,
		pending: make(map[string][]models.InboundMessage),
	}
}

// Start consumes Inbound in the background until ctx is done or the channel closes.
// Messages already accepted keep running after ctx is done; use Wait to drain them.
func (h *ResponseHandler) Start(ctx context.Context) {
	work := context.WithoutCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		inbound := h.service.Inbound()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("ResponseHandler.Start: context done, stopping")
				return
			case msg, ok := <-inbound:
				if !ok {
					slog.Debug("ResponseHandler.Start: inbound channel closed, stopping")
					return
				}
				h.dispatch(work, msg)
			}
		}
	}()
}

// Wait blocks until the consumer loop and all in-flight messages finished.
func (h *ResponseHandler) Wait() {
	h.wg.Wait()
}

// dispatch queues msg behind earlier messages of the same sender, starting a worker if none runs.
func (h *ResponseHandler) dispatch(ctx context.Context, msg models.InboundMessage) {
	h.mu.Lock()
	queue, running := h.pending[msg.From]
	h.pending[msg.From] = append(queue, msg)
	h.mu.Unlock()
	if running {
		slog.Debug("ResponseHandler.dispatch: queued behind in-flight message", "from", msg.From, "queued", len(queue)+1)
		return
	}

	h.wg.Add(1)
	go h.drain(ctx, msg.From)
}

// drain handles the queue of from until it is empty.
func (h *ResponseHandler) drain(ctx context.Context, from string) {
	defer h.wg.Done()
	for {
		h.mu.Lock()
		queue := h.pending[from]
		if len(queue) == 0 {
			delete(h.pending, from)
			h.mu.Unlock()
			return
		}
		msg := queue[0]
		h.pending[from] = queue[1:]
		h.mu.Unlock()

		h.process(ctx, msg)
	}
}

func (h *ResponseHandler) process(ctx context.Context, msg models.InboundMessage) {
	if err := h.handle(ctx, msg); err != nil {
		slog.Error("ResponseHandler.process: handling failed", "from", msg.From, "messageID", msg.MessageID, "channel", msg.Channel, "error", err)
		return
	}
	slog.Debug("ResponseHandler.process: handled", "from", msg.From, "messageID", msg.MessageID)
}
