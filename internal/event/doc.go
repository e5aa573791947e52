/*
Package event decodes the server's event stream and fans events out to
local subscribers.

# Decoding

Every envelope on the stream has the shape {type, properties}. Decode maps
it to an Event whose Data field holds a typed payload:

	ev := event.Decode(raw)
	switch data := ev.Data.(type) {
	case event.PartUpdatedData:
		fmt.Println(data.MessageID, data.Part.PartID())
	case event.SessionErrorData:
		fmt.Println(data.Message)
	}

Decoding never fails. Missing fields default to zero values, unknown part
kinds become text parts and unrecognized event types come back as Unknown.

Recognized types:

Message Events:
  - message.part.updated: part created or replaced
  - message.part.delta: incremental text appended to a part
  - message.part.removed: part deleted
  - message.updated: message info changed (role, id)
  - message.removed: message deleted

Session Events:
  - session.status: busy / idle / retry
  - session.idle: generation finished
  - session.error: generation failed
  - session.created, session.updated, session.deleted

Interaction Events:
  - permission.updated (permission.asked): approval requested
  - permission.replied: approval answered
  - question.asked, question.updated: question posed
  - question.replied, question.rejected: question answered

Connection Events:
  - server.connected, __connected: stream attached

# Bus

A Bus is owned by whoever creates it; there is no package-level instance.

	bus := event.NewBus()
	defer bus.Close()

	unsubscribe := bus.SubscribeAll(func(e event.Event) {
		log.Debug().Str("type", string(e.Type)).Msg("event")
	})
	defer unsubscribe()

	bus.PublishSync(event.Decode(raw))

PublishSync calls subscribers in the order they subscribed. Subscribers must
return quickly and must not publish from inside the callback.

Raw envelopes can be observed without decoding through Tap, which is backed
by a watermill gochannel topic:

	raw, _ := bus.Tap(ctx)
	for envelope := range raw {
		os.Stdout.Write(envelope)
	}
*/
package event
