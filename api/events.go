package api

import (
	"net/http"

	"github.com/vocdoni/anonvote-node/voting"
)

// events returns the retained events with a sequence number greater than
// since, oldest first. Clients poll it with the last sequence they saw.
// GET /events?since=
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	since, err := uintQueryParam(r, SinceQueryParam, 0)
	if err != nil {
		ErrMalformedParam.WithErr(err).Write(w)
		return
	}
	hub := a.orchestrator.Events()
	res := &EventsResponse{LastSeq: hub.LastSeq(), Events: []voting.Event{}}
	if events := hub.Since(since); len(events) > 0 {
		res.Events = events
		res.LastSeq = max(res.LastSeq, events[len(events)-1].Seq)
	}
	httpWriteJSON(w, res)
}
