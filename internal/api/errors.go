package api

import (
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-modelwatch/internal/utils"
)

// ErrorBody is the JSON shape of every HTTP error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func errorBody(err error) ErrorBody {
	return ErrorBody{Error: publicMessage(err), Code: utils.ErrorCode(err)}
}

// publicMessage hides the detail of unexpected failures from callers.
func publicMessage(err error) string {
	if utils.ErrorCode(err) == "INTERNAL_ERROR" {
		return "internal server error"
	}
	return utils.Message(err)
}

// HTTPStatus maps an engine error to its HTTP status code.
func HTTPStatus(err error) int {
	switch utils.ErrorCode(err) {
	case "NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_TRANSITION", "MISSING_COMMENT", "MISSING_ROOT_CAUSE":
		return http.StatusConflict
	case "VALIDATION_ERROR":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// GRPCStatus maps an engine error to a gRPC status carrying the wire code in its message.
func GRPCStatus(err error) error {
	code := codes.Internal
	switch utils.ErrorCode(err) {
	case "NOT_FOUND":
		code = codes.NotFound
	case "INVALID_TRANSITION", "MISSING_COMMENT", "MISSING_ROOT_CAUSE":
		code = codes.FailedPrecondition
	case "VALIDATION_ERROR":
		code = codes.InvalidArgument
	}
	return status.Error(code, utils.ErrorCode(err)+": "+publicMessage(err))
}
