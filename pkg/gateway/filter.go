package gateway

import (
	"context"

	"aegis/pkg/models"
)

// Filter outcomes. One capability interface, many implementers; the
// pipeline only reacts to these three actions.
type Action int

const (
	Pass Action = iota
	Reject
	Modify
)

type InputResult struct {
	Action  Action
	Reason  string
	Request *models.GatewayRequest
}

type OutputResult struct {
	Action   Action
	Reason   string
	Response *models.GatewayResponse
}

type InputFilter interface {
	Name() string
	Filter(ctx context.Context, req *models.GatewayRequest) InputResult
}

type OutputFilter interface {
	Name() string
	Filter(ctx context.Context, req *models.GatewayRequest, resp *models.GatewayResponse) OutputResult
}

func PassInput() InputResult                              { return InputResult{Action: Pass} }
func RejectInput(reason string) InputResult               { return InputResult{Action: Reject, Reason: reason} }
func ModifyInput(req *models.GatewayRequest) InputResult  { return InputResult{Action: Modify, Request: req} }
func PassOutput() OutputResult                            { return OutputResult{Action: Pass} }
func RejectOutput(reason string) OutputResult             { return OutputResult{Action: Reject, Reason: reason} }
func ModifyOutput(r *models.GatewayResponse) OutputResult { return OutputResult{Action: Modify, Response: r} }
