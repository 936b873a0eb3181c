package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/songlab/api/internal/credits"
	"github.com/songlab/api/internal/middleware"
	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/service"
	"github.com/songlab/api/pkg/response"
)

type SongHandler struct {
	service   *service.SongService
	validator *validator.Validate
}

func NewSongHandler(svc *service.SongService, v *validator.Validate) *SongHandler {
	return &SongHandler{
		service:   svc,
		validator: v,
	}
}

// Generate handles POST /api/songs/generate
func (h *SongHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateSongRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.StartGeneration(c.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		if errors.Is(err, model.ErrInsufficientCredits) {
			return response.PaymentRequired(c, err.Error())
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Extend handles POST /api/songs/:id/extend
func (h *SongHandler) Extend(c *fiber.Ctx) error {
	songID := c.Params("id")
	if songID == "" {
		return response.ValidationError(c, "Song ID is required", nil)
	}

	var req model.ExtendSongRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.RequestExtend(c.Context(), middleware.GetUserID(c), songID, req.AdditionalDurationSeconds)
	if err != nil {
		if errors.Is(err, model.ErrSongNotFound) {
			return response.NotFound(c, "Song not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// SplitStems handles POST /api/songs/:id/split-stems
func (h *SongHandler) SplitStems(c *fiber.Ctx) error {
	songID := c.Params("id")
	if songID == "" {
		return response.ValidationError(c, "Song ID is required", nil)
	}

	result, err := h.service.RequestStemSplit(c.Context(), middleware.GetUserID(c), songID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrSongNotFound):
			return response.NotFound(c, "Song not found")
		case errors.Is(err, model.ErrSongHasNoAudio), errors.Is(err, model.ErrStemsAlreadyExist):
			return response.Conflict(c, err.Error())
		default:
			return response.ServiceError(c, err.Error())
		}
	}

	return response.Accepted(c, result)
}

// Get handles GET /api/songs/:id
func (h *SongHandler) Get(c *fiber.Ctx) error {
	songID := c.Params("id")
	if songID == "" {
		return response.ValidationError(c, "Song ID is required", nil)
	}

	song, err := h.service.GetSong(c.Context(), middleware.GetUserID(c), songID)
	if err != nil {
		if errors.Is(err, model.ErrSongNotFound) {
			return response.NotFound(c, "Song not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, song)
}

// Listen handles POST /api/songs/:id/listen
func (h *SongHandler) Listen(c *fiber.Ctx) error {
	songID := c.Params("id")
	if songID == "" {
		return response.ValidationError(c, "Song ID is required", nil)
	}

	if err := h.service.RecordListen(c.Context(), middleware.GetUserID(c), songID); err != nil {
		if errors.Is(err, model.ErrSongNotFound) {
			return response.NotFound(c, "Song not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}

// Credits handles GET /api/credits
func (h *SongHandler) Credits(c *fiber.Ctx) error {
	balance, err := h.service.GetCredits(c.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return response.NotFound(c, "User not found")
		}
		return response.ServiceError(c, err.Error())
	}
	return response.OK(c, balance)
}

// PreviewCost handles GET /api/credits/preview
func (h *SongHandler) PreviewCost(c *fiber.Ctx) error {
	mode := model.GenerationMode(c.Query("mode", string(model.ModeSimple)))
	if !validMode(mode) {
		return response.ValidationError(c, "Unknown generation mode", nil)
	}
	plan := credits.PlanID(c.Query("plan", string(credits.PlanFree)))

	var duration *int
	if d := c.QueryInt("duration", 0); d > 0 {
		duration = &d
	}

	result, err := h.service.PreviewCost(duration, mode, plan)
	if err != nil {
		if errors.Is(err, model.ErrDurationExceedsPlan) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Plans handles GET /api/plans
func (h *SongHandler) Plans(c *fiber.Ctx) error {
	return response.OK(c, credits.Plans())
}

func validMode(mode model.GenerationMode) bool {
	for _, m := range model.ValidGenerationModes {
		if mode == m {
			return true
		}
	}
	return false
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
