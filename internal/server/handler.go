// Package server provides the WebSocket command handlers for the tutor control channel.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/oszuidwest/voicetutor/internal/recording"
	"github.com/oszuidwest/voicetutor/internal/tutor"
	"github.com/oszuidwest/voicetutor/internal/types"
)

// Error codes attached to failed command results.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeMicrophoneUnavailable = "microphone_unavailable"
	CodeEntryNotFound         = "entry_not_found"
	CodeEntryNoAudio          = "entry_no_audio"
)

// CommandResult answers one WebSocket command. ID echoes the command ID.
// Error is a string, or a *types.ValidationError for rejected payloads.
type CommandResult struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Error   any    `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

var errorCodes = []struct {
	err  error
	code string
}{
	{recording.ErrMicrophoneUnavailable, CodeMicrophoneUnavailable},
	{tutor.ErrEntryNotFound, CodeEntryNotFound},
	{tutor.ErrEntryNoAudio, CodeEntryNoAudio},
}

// decode unmarshals and validates the payload of cmd. A missing payload decodes as {}.
func decode[T any](cmd WSCommand) (*T, error) {
	raw := cmd.Data
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	req := new(T)
	if err := json.Unmarshal(raw, req); err != nil {
		verr := types.NewValidationError()
		verr.Add("", fmt.Sprintf("invalid JSON: %v", err), nil)
		return nil, verr
	}
	if err := validate.Struct(req); err != nil {
		return nil, fieldErrors(err)
	}
	return req, nil
}

// run decodes the payload, applies it and replies without data.
func run[T any](cmd WSCommand, send chan<- any, apply func(*T) error) {
	req, err := decode[T](cmd)
	if err == nil {
		err = apply(req)
	}
	reply(send, cmd, nil, err)
}

// reply queues the result of cmd without blocking the reader.
func reply(send chan<- any, cmd WSCommand, data any, err error) {
	res := CommandResult{
		Type:    cmd.Type + "_result",
		ID:      cmd.ID,
		Success: err == nil,
		Data:    data,
	}
	if err != nil {
		res.Data = nil
		res.Code = errorCode(err)
		var verr *types.ValidationError
		if errors.As(err, &verr) {
			res.Error = verr
		} else {
			res.Error = err.Error()
		}
	}

	select {
	case send <- res:
	default:
		slog.Warn("dropping command result for slow client", "type", cmd.Type)
	}
}

func errorCode(err error) string {
	var verr *types.ValidationError
	if errors.As(err, &verr) {
		return CodeInvalidRequest
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

func fieldErrors(err error) *types.ValidationError {
	verr := types.NewValidationError()
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		verr.Add("", err.Error(), nil)
		return verr
	}
	for _, e := range fields {
		verr.Add(e.Field(), describe(e), e.Value())
	}
	return verr
}

// describe turns a failed validation tag into a readable message.
func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "failed validation '" + e.Tag() + "'"
	}
}
