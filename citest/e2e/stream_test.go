package e2e_test

import (
	"context"
	"errors"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/tidwall/gjson"

	"github.com/opencode-ai/custodian/internal/event"
	"github.com/opencode-ai/custodian/internal/reconcile"
	"github.com/opencode-ai/custodian/internal/remote"
	"github.com/opencode-ai/custodian/internal/testutil"
)

var _ = Describe("Event Stream", func() {
	var h *harness

	BeforeEach(func() {
		h = newHarness()
	})

	It("reports connected while streaming", func() {
		Expect(h.engine.ConnState()).To(Equal(reconcile.ConnIdle))
		h.connect()

		snap := h.engine.Snapshot()
		Expect(snap.ConnState).To(Equal(reconcile.ConnStreaming))
		Expect(snap.Connected).To(BeTrue())
		Expect(snap.Error).To(BeEmpty())
		Expect(h.srv.Requests(testutil.OpEvents)[0].Directory).To(Equal("/work/repo"))
	})

	It("allows a single consumer", func() {
		h.connect()
		Expect(h.engine.StartEventStream(context.Background())).To(MatchError(reconcile.ErrAlreadyStreaming))
		Expect(h.srv.Subscribers()).To(Equal(1))
	})

	It("goes idle when the server ends the stream and can reconnect", func() {
		h.connect()
		h.srv.DropStreams()

		Eventually(h.done).Should(Receive(BeNil()))
		snap := h.engine.Snapshot()
		Expect(snap.ConnState).To(Equal(reconcile.ConnIdle))
		Expect(snap.Connected).To(BeFalse())

		h.connect()
		Expect(h.engine.ConnState()).To(Equal(reconcile.ConnStreaming))
	})

	It("goes idle when stopped", func() {
		h.connect()
		h.engine.StopEventStream()

		Eventually(h.done).Should(Receive(BeNil()))
		Expect(h.engine.ConnState()).To(Equal(reconcile.ConnIdle))
		h.cancel = nil
	})

	It("surfaces a rejected stream as an error", func() {
		h.srv.Fail(testutil.OpEvents, 503)

		err := h.engine.StartEventStream(context.Background())
		var apiErr *remote.APIError
		Expect(errors.As(err, &apiErr)).To(BeTrue())
		Expect(apiErr.Status).To(Equal(503))

		snap := h.engine.Snapshot()
		Expect(snap.ConnState).To(Equal(reconcile.ConnErrored))
		Expect(snap.Error).To(ContainSubstring("503"))

		// A later successful connection clears the error.
		h.srv.Recover(testutil.OpEvents)
		h.connect()
		Expect(h.engine.Snapshot().Error).To(BeEmpty())
	})

	It("tolerates malformed and unknown envelopes", func() {
		s := h.srv.AddSession("s")
		h.connect()
		Expect(h.engine.SwitchSession(context.Background(), s.ID)).To(Succeed())

		h.srv.EmitRaw([]byte(`{not json`))
		h.srv.EmitRaw([]byte(`{"type":"tui.toast.show","properties":{"message":"hi"}}`))
		h.srv.EmitRaw([]byte(`{"directory":"/work/repo","payload":{"type":"message.updated","properties":{"info":{"id":"msg_1","sessionID":"` + s.ID + `","role":"assistant"}}}}`))

		Eventually(h.texts).Should(Equal([]string{"assistant: "}))
		Expect(h.engine.ConnState()).To(Equal(reconcile.ConnStreaming))
		Expect(promtest.CollectAndCount(h.metrics.Registry(), "custodian_events_dropped_total")).To(BeNumerically(">=", 1))
	})

	It("delivers raw envelopes to taps in stream order", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		raw, err := h.engine.Bus().Tap(ctx)
		Expect(err).NotTo(HaveOccurred())

		var decoded atomic.Int32
		unsub := h.engine.Bus().SubscribeAll(func(ev event.Event) {
			if ev.Type != event.StateChanged {
				decoded.Add(1)
			}
		})
		defer unsub()

		h.connect()
		for _, typ := range []string{"session.idle", "session.status", "session.idle"} {
			h.srv.Emit(typ, map[string]any{"sessionID": "ses_x", "status": map[string]any{"type": "idle"}})
		}

		var seen []string
		for len(seen) < 5 {
			var data []byte
			Eventually(raw).Should(Receive(&data))
			seen = append(seen, gjson.GetBytes(data, "type").String())
		}
		Expect(seen).To(Equal([]string{"__connected", "server.connected", "session.idle", "session.status", "session.idle"}))
		Eventually(decoded.Load).Should(BeNumerically(">=", 5))
	})
})
