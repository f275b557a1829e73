package models

import "fmt"

type StateCode string

const (
	StateParamMiss      StateCode = "PARAM_MISS"
	StateConnectSuccess StateCode = "CONNECT_SUCCESS"
	StateConnectFailed  StateCode = "CONNECT_FAILED"
	StateDisconnect     StateCode = "DISCONNECT"
	StateReconnecting   StateCode = "RECONNECTING"
	StateReady          StateCode = "READY"
	StateGeneralError   StateCode = "GENERAL_ERROR"
)

// State is a one-shot notification of a connection lifecycle change.
type State struct {
	Platform string    `json:"platform"`
	Account  string    `json:"account"`
	Message  string    `json:"message"`
	Code     StateCode `json:"code"`
}

func NewState(platform, account string, code StateCode, msg string) State {
	return State{Platform: platform, Account: account, Message: msg, Code: code}
}

func (s State) String() string {
	return fmt.Sprintf("platform=%s account=%s code=%s msg=%s", s.Platform, s.Account, s.Code, s.Message)
}
