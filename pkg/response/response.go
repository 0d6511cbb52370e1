package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess     = 0
	CodeParamError  = 400
	CodeNotFound    = 404
	CodeServerError = 500
)

// 积分业务错误码
const (
	CodeStateNotFound    = 1001 // 积分账户不存在
	CodeBalanceNotEnough = 1002 // 积分余额不足
	CodeBelowMinSpend    = 1003 // 低于最低兑换门槛
	CodeInvalidAmount    = 1004 // 非法积分数量
	CodeNegativeBalance  = 1005 // 调整后余额为负
	CodeSystemBusy       = 1006 // 用户锁竞争失败
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

func BusinessError(c *gin.Context, code int, message string) {
	Error(c, code, message)
}
