package service

import (
	"errors"
)

// 业务校验错误，handler 层映射为对应错误码后原样展示给调用方
var (
	ErrInvalidAmount    = errors.New("积分数量必须大于0")
	ErrBelowMinSpend    = errors.New("低于最低兑换门槛")
	ErrBalanceNotEnough = errors.New("积分余额不足")
	ErrNegativeBalance  = errors.New("调整后余额不能为负")
	ErrInvalidDelta     = errors.New("调整数量不能为0")
)
