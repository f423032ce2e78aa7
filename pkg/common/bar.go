package common

import (
	"time"

	"github.com/jhudec/sandglass/pkg/utility/fixed"
)

type Bar struct {
	Symbol    string        `json:"symbol,omitempty"`
	TimeStamp time.Time     `json:"ts"`
	Period    time.Duration `json:"period"`
	Open      fixed.Point   `json:"open"`
	High      fixed.Point   `json:"high"`
	Low       fixed.Point   `json:"low"`
	Close     fixed.Point   `json:"close"`
	Volume    int64         `json:"volume"`
	Amount    fixed.Point   `json:"amount"`
}

type Quote struct {
	Symbol    string      `json:"symbol,omitempty"`
	Last      fixed.Point `json:"last"`
	LimitUp   fixed.Point `json:"limit_up"`
	LimitDown fixed.Point `json:"limit_down"`
	TimeStamp time.Time   `json:"ts"`
}
