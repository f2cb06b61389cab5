package router

import (
	"encoding/json"

	"github.com/valyala/bytebufferpool"
	"github.com/valyala/fasthttp"
)

// WriteJSON encodes v through a pooled buffer and writes it with status.
func WriteJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		WriteError(ctx, fasthttp.StatusInternalServerError, "encode response: "+err.Error())
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(buf.B)
}

// WriteError writes {"error": message}.
func WriteError(ctx *fasthttp.RequestCtx, status int, message string) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	b, _ := json.Marshal(map[string]string{"error": message})
	ctx.SetBody(b)
}

// WriteOK writes {"status": "ok"}.
func WriteOK(ctx *fasthttp.RequestCtx) {
	WriteJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}
