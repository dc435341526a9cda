package httpapi

import (
	"net/http"
)

// MuxOptions carries the optional pieces of the base mux. Nil fields are skipped.
type MuxOptions struct {
	DB        Pinger
	MQTT      ConnectionState
	WebSocket http.Handler
}

func NewMux(opts MuxOptions) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, opts.DB, opts.MQTT)
	if opts.WebSocket != nil {
		mux.Handle("GET /ws", opts.WebSocket)
	}
	return mux
}
