package handler

import (
	"net/http"
	"strconv"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads limit/offset. Out-of-range values are left for the
// service to normalise.
func ParsePagination(r *http.Request) PaginationParams {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	if offset < 0 {
		offset = 0
	}

	return PaginationParams{
		Limit:  limit,
		Offset: offset,
	}
}
