// Package v1 holds the JSON tracking, public event and rollup endpoints.
package v1

import (
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tally/internal/events"
	"tally/internal/http/middleware"
	"tally/internal/rollup"
)

const (
	errInvalidRequest = "Invalid request body"
	errRecordFailed   = "Failed to record event"
	errUnauthorised   = "Unauthorised"
	errRollupFailed   = "Rollup failed"
)

// isoTimestamp matches JavaScript's Date.toISOString.
const isoTimestamp = "2006-01-02T15:04:05.000Z"

var validate = validator.New(validator.WithRequiredStructEnabled())

type TrackRequest struct {
	Name  string         `json:"name" validate:"required,max=100"`
	Props map[string]any `json:"props"`
	Path  string         `json:"path" validate:"omitempty,startswith=/,max=2048"`
}

type CreateEventRequest struct {
	Type     string         `json:"type" validate:"required,oneof=page_view custom"`
	Name     string         `json:"name" validate:"max=100"`
	Path     string         `json:"path" validate:"required,startswith=/,max=2048"`
	Referrer string         `json:"referrer" validate:"max=2048"`
	Props    map[string]any `json:"props"`
}

type RollupRequest struct {
	Token string `json:"token"`
}

// Handlers serves the write-side API.
type Handlers struct {
	Recorder      *events.Recorder
	Rollup        *rollup.Job
	SecureCookies bool
}

// TrackAction records a named custom event for the page that sent it. The
// path defaults to the Referer header's path, then to "/".
func (h *Handlers) TrackAction(ctx *cartridge.Context) error {
	var req TrackRequest
	if err := json.Unmarshal(ctx.Body(), &req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": validationMessage(err)})
	}

	referer := ctx.Get(fiber.HeaderReferer)
	path := req.Path
	if path == "" {
		path = pathFromReferer(referer)
	}

	return h.record(ctx, events.RecordInput{
		Type:     events.EventTypeCustom,
		Name:     req.Name,
		Path:     path,
		Referrer: referer,
		Props:    req.Props,
		Request:  middleware.RequestMetadata(ctx.Ctx),
	}, fiber.StatusOK)
}

// CreateEventPublicAPIHandler accepts page views and custom events from
// pages not served by this process.
func (h *Handlers) CreateEventPublicAPIHandler(ctx *cartridge.Context) error {
	var req CreateEventRequest
	if err := json.Unmarshal(ctx.Body(), &req); err != nil {
		ctx.Logger.Debug("Failed to parse event request", slog.Any("error", err))
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": validationMessage(err)})
	}

	return h.record(ctx, events.RecordInput{
		Type:     events.EventType(req.Type),
		Name:     req.Name,
		Path:     req.Path,
		Referrer: req.Referrer,
		Props:    req.Props,
		Request:  middleware.RequestMetadata(ctx.Ctx),
	}, fiber.StatusAccepted)
}

func (h *Handlers) record(ctx *cartridge.Context, input events.RecordInput, status int) error {
	receipt, err := h.Recorder.Record(ctx.UserContext(), input)
	if err != nil {
		if events.IsValidationError(err) {
			return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
		}
		ctx.Logger.Error("Failed to record event", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": errRecordFailed})
	}

	middleware.IssueVisitorCookie(ctx.Ctx, receipt.Identity, h.SecureCookies)
	return ctx.Status(status).JSON(fiber.Map{"success": true})
}

// RollupAction recomputes the summary tables. The token may come from the
// JSON body or an Authorization bearer header.
func (h *Handlers) RollupAction(ctx *cartridge.Context) error {
	var req RollupRequest
	if body := ctx.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": errInvalidRequest})
		}
	}
	if req.Token == "" {
		req.Token = middleware.BearerToken(ctx.Ctx)
	}

	if err := h.Rollup.Authorize(req.Token); err != nil {
		ctx.Logger.Warn("Rejected rollup request", slog.String("ip", ctx.IP()))
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": errUnauthorised})
	}

	result, err := h.Rollup.Run(ctx.UserContext(), rollup.Options{Trigger: rollup.TriggerHTTP})
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   errRollupFailed,
			"details": err.Error(),
		})
	}

	return ctx.JSON(fiber.Map{
		"success": true,
		"results": fiber.Map{
			"monthly":  result.Monthly,
			"yearly":   result.Yearly,
			"all_time": result.AllTime,
		},
		"timestamp": time.Now().UTC().Format(isoTimestamp),
	})
}

// RollupStatusAction reports the most recent run from the ledger.
func (h *Handlers) RollupStatusAction(ctx *cartridge.Context) error {
	if err := h.Rollup.Authorize(middleware.BearerToken(ctx.Ctx)); err != nil {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": errUnauthorised})
	}

	last, err := h.Rollup.LastRun(ctx.UserContext())
	if err != nil {
		ctx.Logger.Error("Failed to load rollup status", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load rollup status"})
	}
	return ctx.JSON(fiber.Map{"last_run": last})
}

func pathFromReferer(referer string) string {
	if referer == "" {
		return "/"
	}
	u, err := url.Parse(referer)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// validationMessage reports the first failing field in plain words.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}
	fe := fieldErrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return field + " must be at most " + fe.Param() + " characters"
	case "oneof":
		return field + " must be one of: " + fe.Param()
	case "startswith":
		return field + " must start with " + fe.Param()
	default:
		return field + " is invalid"
	}
}
