package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	apperrors "github.com/Proton-105/vidbot/internal/errors"
)

const internalErrorMessage = "Error interno"

// errorBody is the error shape every API route answers with.
type errorBody struct {
	Error string `json:"error"`
}

// abortWithError maps an application error to a status and its user-facing text.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(err)

	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: internalErrorMessage})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case "E100", "E401", "E402":
		status = http.StatusBadRequest
	case "E300":
		status = http.StatusBadGateway
	case "E301":
		status = http.StatusGatewayTimeout
	case "E404":
		status = http.StatusNotFound
	case "E500":
		status = http.StatusTooManyRequests
	case "E600":
		status = http.StatusUnauthorized
	}

	msg := appErr.UserMessage
	if msg == "" {
		msg = internalErrorMessage
	}
	c.AbortWithStatusJSON(status, errorBody{Error: msg})
}

func chatIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "chat_id inválido"})
		return 0, false
	}
	return id, true
}

// flexString accepts a JSON string or number. Rail forwarders send phones and
// transaction ids either way.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }
