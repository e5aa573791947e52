package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sst/opencode-sdk-go/option"
	"github.com/sst/opencode-sdk-go/packages/ssestream"

	"github.com/opencode-ai/custodian/internal/event"
)

// maxLineSize bounds a single line of the event stream.
const maxLineSize = 8 << 20

// Events attaches to GET /event and calls handler with the data of every
// server-sent event until ctx is done or the stream ends. The synthetic
// connected envelope is delivered first, once the server accepted the
// stream. A clean end of stream returns nil; cancellation returns ctx.Err().
//
// Frames are handed over raw rather than through the SDK's typed event
// union, so event types the SDK does not know still reach the decoder.
func (c *Client) Events(ctx context.Context, handler func(raw []byte)) error {
	var resp *http.Response
	err := c.api.Get(route(ctx, "/event"), "event", nil, &resp,
		option.WithHTTPClient(c.stream),
		option.WithHeader("Accept", "text/event-stream"),
		option.WithHeader("Cache-Control", "no-cache"),
	)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	if resp == nil {
		return fmt.Errorf("failed to connect: no response")
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		return fmt.Errorf("unexpected content type: %s", ct)
	}

	body := &lineLimitReader{r: resp.Body, max: c.maxLine}
	resp.Body = body
	dec := ssestream.NewDecoder(resp)
	defer dec.Close()

	c.log.Debug().Str("url", c.baseURL).Msg("event stream attached")

	handler(event.ConnectedEnvelope)

	for dec.Next() {
		data := bytes.TrimRight(dec.Event().Data, "\n")
		// Heartbeats dispatch as empty events.
		if len(data) == 0 {
			continue
		}
		handler(data)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if body.err != nil {
		return body.err
	}
	return dec.Err()
}

// lineLimitReader fails the stream once a line grows past max bytes
// without a newline.
type lineLimitReader struct {
	r    io.ReadCloser
	max  int
	line int
	err  error
}

func (l *lineLimitReader) Read(p []byte) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	n, err := l.r.Read(p)
	for i, b := range p[:n] {
		if b == '\n' {
			l.line = 0
			continue
		}
		l.line++
		if l.line > l.max {
			l.err = fmt.Errorf("event stream line exceeds %d bytes", l.max)
			return i, l.err
		}
	}
	return n, err
}

func (l *lineLimitReader) Close() error {
	return l.r.Close()
}
