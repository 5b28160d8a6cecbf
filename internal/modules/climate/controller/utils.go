package controller

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
)

const (
	orderAsc  = "asc"
	orderDesc = "desc"

	maxReadingsLimit = 1000
)

// parseHistoryQuery never fails: a missing or unusable limit falls back to
// defaultLimit, a larger one is capped at capacity, and any order other
// than desc means oldest-first.
func parseHistoryQuery(r *http.Request, defaultLimit, capacity int) (limit int, order string) {
	q := r.URL.Query()

	limit = defaultLimit
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil && n > 0 {
		limit = n
	}
	limit = min(limit, capacity)

	order = orderAsc
	if strings.EqualFold(strings.TrimSpace(q.Get("order")), orderDesc) {
		order = orderDesc
	}
	return limit, order
}

func parseReadingsQuery(r *http.Request, defaultLimit int) (limit int, err error) {
	limit = defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, convErr := strconv.Atoi(s)
		if convErr != nil {
			return 0, errors.New("invalid 'limit' (expected integer)")
		}
		if n <= 0 {
			return 0, errors.New("'limit' must be > 0")
		}
		if n > maxReadingsLimit {
			return 0, errors.New("'limit' must be <= 1000")
		}
		limit = n
	}
	return limit, nil
}
