package orchestrator

import (
	"encoding/json"
	"net/http"
)

// Reply is a fully formed HTTP answer.
type Reply struct {
	Status      int
	Body        []byte
	ContentType string
	Headers     http.Header
	CacheState  CacheState
	Sample      bool

	// Err is the fetch error behind an ERROR reply.
	Err error
}

// Write sends r to w.
func (r *Reply) Write(w http.ResponseWriter) {
	h := w.Header()
	for k, vs := range r.Headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if r.ContentType != "" {
		h.Set("Content-Type", r.ContentType)
	}
	w.WriteHeader(r.Status)
	_, _ = w.Write(r.Body)
}

func jsonReply(status int, v any, headers http.Header) *Reply {
	body, err := json.Marshal(v)
	if err != nil {
		body = []byte(`{"error":"internal error"}`)
		status = http.StatusInternalServerError
	}
	return &Reply{
		Status:      status,
		Body:        body,
		ContentType: "application/json",
		Headers:     headers.Clone(),
	}
}
