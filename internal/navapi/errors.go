// Copyright (C) 2025-2026 CartaHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package navapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cartahq/cartanav/internal/resolver"
)

type APIErrorCode string

const (
	ErrBadRequest    APIErrorCode = "bad_request"
	ErrInvalidCursor APIErrorCode = "invalid_cursor"
	ErrNotFound      APIErrorCode = "not_found"
	ErrUnavailable   APIErrorCode = "unavailable"
	ErrInternal      APIErrorCode = "internal"
)

type APIError struct {
	Status  int          `json:"status"`
	Code    APIErrorCode `json:"code"`
	Message string       `json:"message"`
}

func writeAPIError(w http.ResponseWriter, status int, code APIErrorCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{
		Status:  status,
		Code:    code,
		Message: msg,
	})
}

// writeResolverError maps the resolver's error taxonomy onto HTTP status
// codes.
func writeResolverError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, ErrNotFound, err.Error())
	case errors.Is(err, resolver.ErrInvalidCursor):
		writeAPIError(w, http.StatusBadRequest, ErrInvalidCursor, err.Error())
	case errors.Is(err, resolver.ErrUnavailable):
		writeAPIError(w, http.StatusServiceUnavailable, ErrUnavailable, err.Error())
	default:
		writeAPIError(w, http.StatusInternalServerError, ErrInternal, err.Error())
	}
}
