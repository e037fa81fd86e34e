package btctrade

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"tradesync/internal/core"
)

type APIError struct {
	HTTPStatus int
	Msg        string
}

func (e APIError) Error() string {
	return "btctrade api error " + strconv.Itoa(e.HTTPStatus) + ": " + e.Msg
}

type apiErrorBody struct {
	Error string `json:"error"`
}

func parseAPIError(status int, body []byte) error {
	apiErr := APIError{HTTPStatus: status}
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		apiErr.Msg = parsed.Error
	} else {
		apiErr.Msg = strings.TrimSpace(string(body))
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden || isAuthRejection(apiErr.Msg) {
		return errors.Join(core.ErrAuthRejected, apiErr)
	}
	return apiErr
}

// isAuthRejection matches the message fragments the server uses when it
// refuses a signature or a stale nonce.
func isAuthRejection(msg string) bool {
	msg = strings.ToLower(msg)
	for _, fragment := range []string{"nonce", "sign", "api key", "public key"} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func AsAPIError(err error) (APIError, bool) {
	if err == nil {
		return APIError{}, false
	}
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		return APIError{}, false
	}
	return apiErr, true
}
