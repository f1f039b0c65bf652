package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jroosing/madns/internal/diag"
)

// Dump renders the last resolver Snapshot's SUMMARY/QUERIES/CACHE sections
// as text/plain, selected by a comma-separated ?opts= query param (any of
// "summary", "queries", "cache"; absent or empty means all three) — the
// HTTP analog of Resolver.Dump, but reading the cached Snapshot instead of
// calling back into the resolver.
func (h *Handler) Dump(c *gin.Context) {
	opts := parseDumpOpts(c.Query("opts"))
	snap := h.current()

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/plain; charset=utf-8")
	diag.Dump(c.Writer, opts, snap.Dump)
}

func parseDumpOpts(raw string) diag.Opts {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return diag.OptSummary | diag.OptQueries | diag.OptCache
	}
	var opts diag.Opts
	for _, part := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "summary":
			opts |= diag.OptSummary
		case "queries":
			opts |= diag.OptQueries
		case "cache":
			opts |= diag.OptCache
		}
	}
	return opts
}
