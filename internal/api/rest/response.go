package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/tokenlottery/internal/lottery"
	"github.com/lvdashuaibi/tokenlottery/internal/service"
	"github.com/lvdashuaibi/tokenlottery/internal/token"
)

type apiResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, status int, message string) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
	})
}

// Fail 按错误类型映射HTTP状态码
func Fail(c *gin.Context, err error) {
	Error(c, statusOf(err), err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, lottery.ErrNotFound), errors.Is(err, token.ErrUnknownToken):
		return http.StatusNotFound
	case errors.Is(err, lottery.ErrInvalidParameter), errors.Is(err, lottery.ErrInsufficientFee),
		errors.Is(err, token.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, lottery.ErrInsufficientAllowance), errors.Is(err, lottery.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, lottery.ErrRoundClosed), errors.Is(err, lottery.ErrRoundNotEnded),
		errors.Is(err, lottery.ErrNoParticipants):
		return http.StatusConflict
	case errors.Is(err, service.ErrPersistenceDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, lottery.ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
