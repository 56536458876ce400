package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/chainvista/dlt-gateway/pkg/logger"
	"github.com/chainvista/dlt-gateway/pkg/types"
)

// errorResponse is the stable JSON error envelope. In production mode only
// the kind, code and message leave the process; causes stay in the logs.
type errorResponse struct {
	Kind    types.ErrorKind        `json:"kind"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, log *logger.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeGatewayError maps an error onto the taxonomy and writes the stable
// error envelope, including a Retry-After hint for rate limited requests
func writeGatewayError(w http.ResponseWriter, log *logger.Logger, err error) {
	ge := types.AsGatewayError(err)

	if ge.Kind == types.ErrorKindRateLimited {
		if retryAfter, ok := ge.Details["retry_after_seconds"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		}
	}

	if ge.Kind == types.ErrorKindInternal || ge.Kind == types.ErrorKindDecode {
		log.WithError(ge).Error("Request failed")
	}

	writeJSON(w, log, ge.HTTPStatus(), &errorResponse{
		Kind:    ge.Kind,
		Code:    ge.Code,
		Message: ge.Message,
		Details: ge.Details,
	})
}

// responseRecorder captures status and body so cacheable responses can be
// stored after they are written
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       []byte
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	r.body = append(r.body, data...)
	return r.ResponseWriter.Write(data)
}

// statusRecorder captures only the status code for logging middleware
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
