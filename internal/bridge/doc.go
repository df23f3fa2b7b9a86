// Package bridge carries scan events to host applications and carries
// their calls back.
//
// Events are encoded as JSON envelopes:
//
//	{"type":"qrStatus","payload":{"phase":"scanning","progress":10},"session":"…","seq":1,"time":"…"}
//
// Hub broadcasts envelopes to websocket clients, LogSink writes them to
// slog, History keeps the most recent ones for polling clients and Multi
// fans out to several sinks. Calls arrive as {"type":"call","id":…,"method":…}
// and are answered with {"type":"result",…}.
package bridge
