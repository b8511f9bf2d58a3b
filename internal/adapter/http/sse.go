package http

import (
	"fmt"
	"io"
	"net/http"

	"github.com/Strob0t/Roundtable/internal/domain/event"
	"github.com/Strob0t/Roundtable/internal/service"
)

// sseHeaders disables buffering along the path so event frames reach the
// client as they are emitted.
func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeSSE renders one event as an SSE frame: the event type on the event
// line, the flattened envelope as data.
func writeSSE(w io.Writer, ev event.Event) error {
	data, err := ev.Envelope()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// streamRun forwards a run stream to the client as SSE until the run reaches
// a terminal event or the client disconnects. The run itself continues in the
// background after a disconnect.
func (h *Handlers) streamRun(w http.ResponseWriter, r *http.Request, stream *service.Stream) {
	sseHeaders(w)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	// Forward errors mean the client went away or the stream stalled; the
	// headers are already out, so there is nothing left to report here.
	_ = stream.Forward(r.Context(), h.Heartbeat, h.StallDeadline, func(ev event.Event) error {
		if err := writeSSE(w, ev); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
}
