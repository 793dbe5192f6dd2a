// Package routes — swaggo annotation stubs.
// Each function below is a documentation stub only; the real handler logic lives
// in the closures registered by RegisterCall and registerAPILogRoutes.
// Run `go generate ./internal/viewer/routes` to regenerate ../docs.
//
//	@title			goopcall viewer API
//	@version		1.0
//	@description	Local control surface for one goopcall client: call intents, live state and logs.
//	@BasePath		/
package routes

import (
	"github.com/petervdpas/goopcall/internal/call"
	"github.com/petervdpas/goopcall/internal/media"
	"github.com/petervdpas/goopcall/internal/relay"
)

// ── Request / Response types ─────────────────────────────────────────────────

// callModeResponse is the body for GET /api/call/mode.
type callModeResponse struct {
	Mode           string `json:"mode"            example:"native"`
	Platform       string `json:"platform"        example:"linux"`
	MediaSupported bool   `json:"media_supported"`
}

// startCallRequest is the body for POST /api/call/start.
type startCallRequest struct {
	ContactID string      `json:"contact_id" example:"bob"`
	Contact   relay.Party `json:"contact"`
	Media     relay.Media `json:"media"      example:"video" enums:"voice,video"`
}

// startCallResponse is the body returned by POST /api/call/start.
type startCallResponse struct {
	CallID string `json:"call_id" example:"alice_bob_1772366400000"`
	Status string `json:"status"  example:"initiating"`
}

// callDebugResponse is the body for GET /api/call/debug.
type callDebugResponse struct {
	Snapshot call.Snapshot `json:"snapshot"`
	Live     bool          `json:"live"`
	Media    *media.Stats  `json:"media,omitempty"`
}

// errorResponse is the body of a rejected intent.
type errorResponse struct {
	Error string `json:"error" example:"call: session already active"`
}

// ── Call ─────────────────────────────────────────────────────────────────────

// swagCallMode is a documentation stub for GET /api/call/mode.
//
//	@Summary	Query whether calling is enabled
//	@Description	Returns native when a call machine is running, disabled otherwise.\nSafe to call regardless of whether the call feature is enabled.
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	callModeResponse
//	@Router		/api/call/mode [get]
func swagCallMode() {}

// swagCallState is a documentation stub for GET /api/call/state.
//
//	@Summary	Current call snapshot
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	call.Snapshot
//	@Router		/api/call/state [get]
func swagCallState() {}

// swagCallEvents is a documentation stub for GET /api/call/events.
//
//	@Summary	SSE stream of call snapshots
//	@Description	Every frame is a 'state' event carrying a call.Snapshot. The current snapshot is sent first.\nWhile connected the duration advances once per second, so a frame arrives at least that often.
//	@Tags		call
//	@Produce	text/event-stream
//	@Success	200	{string}	string	"SSE stream"
//	@Router		/api/call/events [get]
func swagCallEvents() {}

// swagCallDebug is a documentation stub for GET /api/call/debug.
//
//	@Summary	Snapshot plus signaling counters of the live session
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	callDebugResponse
//	@Router		/api/call/debug [get]
func swagCallDebug() {}

// swagCallStart is a documentation stub for POST /api/call/start.
//
//	@Summary	Place an outgoing call
//	@Description	Returns once the session is initiating. The relay write and media setup continue in the background; follow /api/call/events.
//	@Tags		call
//	@Accept		json
//	@Produce	json
//	@Param		body	body		startCallRequest	true	"Start request"
//	@Success	200		{object}	startCallResponse
//	@Failure	400		{object}	errorResponse	"invalid contact or media"
//	@Failure	409		{object}	errorResponse	"a session is already live"
//	@Failure	412		{object}	errorResponse	"no identity or media unsupported"
//	@Router		/api/call/start [post]
func swagCallStart() {}

// swagCallAccept is a documentation stub for POST /api/call/accept.
//
//	@Summary	Accept the ringing inbound call
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	call.Snapshot
//	@Failure	409	{object}	errorResponse	"not ringing"
//	@Router		/api/call/accept [post]
func swagCallAccept() {}

// swagCallDecline is a documentation stub for POST /api/call/decline.
//
//	@Summary	Decline the ringing inbound call
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	call.Snapshot
//	@Failure	409	{object}	errorResponse	"not ringing"
//	@Router		/api/call/decline [post]
func swagCallDecline() {}

// swagCallEnd is a documentation stub for POST /api/call/end.
//
//	@Summary	End the live call
//	@Description	Ending while ringing inbound declines. A no-op when idle or terminal.
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	call.Snapshot
//	@Router		/api/call/end [post]
func swagCallEnd() {}

// swagCallHold is a documentation stub for POST /api/call/hold.
//
//	@Summary	Put the active call on hold
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	call.Snapshot
//	@Failure	409	{object}	errorResponse	"not active"
//	@Router		/api/call/hold [post]
func swagCallHold() {}

// swagCallResume is a documentation stub for POST /api/call/resume.
//
//	@Summary	Resume a held call
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	call.Snapshot
//	@Failure	409	{object}	errorResponse	"not on hold"
//	@Router		/api/call/resume [post]
func swagCallResume() {}

// swagCallReconnect is a documentation stub for POST /api/call/reconnect.
//
//	@Summary	Rebuild media and transport of a connected call
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	call.Snapshot
//	@Failure	409	{object}	errorResponse	"not connected"
//	@Router		/api/call/reconnect [post]
func swagCallReconnect() {}

// swagCallReset is a documentation stub for POST /api/call/reset.
//
//	@Summary	Return a finished call to idle
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	call.Snapshot
//	@Failure	409	{object}	errorResponse	"call still live"
//	@Router		/api/call/reset [post]
func swagCallReset() {}

// swagCallToggleMute is a documentation stub for POST /api/call/toggle-mute.
//
//	@Summary	Toggle the microphone
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	map[string]bool	"{\"muted\": true}"
//	@Failure	409	{object}	errorResponse	"idle"
//	@Router		/api/call/toggle-mute [post]
func swagCallToggleMute() {}

// swagCallToggleVideo is a documentation stub for POST /api/call/toggle-video.
//
//	@Summary	Toggle the camera
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	map[string]bool	"{\"camera_off\": true}"
//	@Failure	409	{object}	errorResponse	"idle"
//	@Router		/api/call/toggle-video [post]
func swagCallToggleVideo() {}

// swagCallToggleSpeaker is a documentation stub for POST /api/call/toggle-speaker.
//
//	@Summary	Toggle the speaker flag
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	map[string]bool	"{\"speaker_on\": true}"
//	@Failure	409	{object}	errorResponse	"idle"
//	@Router		/api/call/toggle-speaker [post]
func swagCallToggleSpeaker() {}

// swagCallToggleMinimize is a documentation stub for POST /api/call/toggle-minimize.
//
//	@Summary	Toggle the minimized call window
//	@Tags		call
//	@Produce	json
//	@Success	200	{object}	map[string]bool	"{\"minimized\": true}"
//	@Failure	409	{object}	errorResponse	"idle"
//	@Router		/api/call/toggle-minimize [post]
func swagCallToggleMinimize() {}

// ── Logs ─────────────────────────────────────────────────────────────────────

// swagLogs is a documentation stub for GET /api/logs.
//
//	@Summary	Recent log lines
//	@Tags		logs
//	@Produce	json
//	@Success	200	{array}	object
//	@Router		/api/logs [get]
func swagLogs() {}

// swagLogsStream is a documentation stub for GET /api/logs/stream.
//
//	@Summary	SSE tail of new log lines
//	@Tags		logs
//	@Produce	text/event-stream
//	@Success	200	{string}	string	"SSE stream"
//	@Router		/api/logs/stream [get]
func swagLogsStream() {}
