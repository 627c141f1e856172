package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/UmanUmair/ScreenGuide/internal/capture"
	"github.com/UmanUmair/ScreenGuide/internal/guidance"
	"github.com/UmanUmair/ScreenGuide/internal/permission"
	"github.com/UmanUmair/ScreenGuide/internal/popup"
	"github.com/UmanUmair/ScreenGuide/internal/store"
	"github.com/UmanUmair/ScreenGuide/internal/vision"
)

type inputRequest struct {
	Mode       store.Mode `json:"mode"`
	Text       string     `json:"text"`
	Image      string     `json:"image"`
	Audio      string     `json:"audio"`
	MimeType   string     `json:"mimeType"`
	Transcript string     `json:"transcript"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type splitRequest struct {
	Text string `json:"text"`
}

type indexRequest struct {
	Index int `json:"index"`
}

type positionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func errorJSON(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vision.ErrAlreadyAnalyzing),
		errors.Is(err, guidance.ErrWrongPhase),
		errors.Is(err, guidance.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, guidance.ErrNoInstructions),
		errors.Is(err, capture.ErrEmptyInput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, guidance.ErrStepNotFound):
		return http.StatusNotFound
	case errors.Is(err, guidance.ErrScreenDenied),
		errors.Is(err, popup.ErrDismissed):
		return http.StatusForbidden
	case errors.Is(err, capture.ErrOCRUnavailable),
		errors.Is(err, capture.ErrTranscriptionUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) health(c echo.Context) error {
	simulated := s.deps.Vision == nil || s.deps.Vision.Simulated()
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "healthy",
		"simulated": simulated,
	})
}

func (s *Server) getSession(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Orchestrator.Snapshot())
}

func (s *Server) submitInput(c echo.Context) error {
	var req inputRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if req.Mode == "" {
		req.Mode = store.ModeText
	}
	if !req.Mode.Valid() {
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("unknown mode %q", req.Mode))
	}

	ctx := c.Request().Context()
	in := s.deps.Inputs
	var (
		capt capture.Capture
		err  error
	)
	switch req.Mode {
	case store.ModeText:
		capt, err = in.Text(ctx, req.Text)
	case store.ModeImage:
		capt, err = in.Image(ctx, req.Image)
	case store.ModeVoice:
		if req.Transcript != "" {
			capt, err = in.Transcript(req.Transcript)
			break
		}
		audio, decErr := base64.StdEncoding.DecodeString(req.Audio)
		if decErr != nil {
			return errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid audio payload: %w", decErr))
		}
		capt, err = in.Voice(ctx, audio, req.MimeType)
	case store.ModeScreen:
		capt, err = in.ScreenMode(ctx)
	}
	if err != nil {
		return errorJSON(c, statusFor(err), err)
	}

	if _, err := s.deps.Orchestrator.Submit(ctx, capt); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(http.StatusCreated, s.deps.Orchestrator.Snapshot())
}

func (s *Server) backToInput(c echo.Context) error {
	s.deps.Orchestrator.BackToInput()
	return c.JSON(http.StatusOK, s.deps.Orchestrator.Snapshot())
}

func (s *Server) setScreenSharing(c echo.Context) error {
	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if err := s.deps.Orchestrator.SetScreenSharing(c.Request().Context(), req.Enabled); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, s.deps.Orchestrator.Snapshot())
}

func (s *Server) setAnalysis(c echo.Context) error {
	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	s.deps.Orchestrator.SetAnalysisEnabled(req.Enabled)
	return c.JSON(http.StatusOK, s.deps.Orchestrator.Snapshot())
}

func (s *Server) completeStep(c echo.Context) error {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid step id"))
	}
	if err := s.deps.Orchestrator.CompleteStep(id); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, s.deps.Orchestrator.Snapshot())
}

func (s *Server) selectStep(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid step index"))
	}
	if err := s.deps.Orchestrator.SelectStep(index); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, s.deps.Orchestrator.Snapshot())
}

// analyze runs a single evaluation. Without a screenshot the configured
// screen source is captured.
func (s *Server) analyze(c echo.Context) error {
	var req vision.Request
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if len(req.Instructions) == 0 {
		return errorJSON(c, http.StatusBadRequest, fmt.Errorf("instructions are required"))
	}

	ctx := c.Request().Context()
	if req.Screenshot == "" {
		if s.deps.Inputs == nil || s.deps.Inputs.Screen == nil {
			return errorJSON(c, http.StatusBadRequest, fmt.Errorf("screenshot is required"))
		}
		frame, err := s.deps.Inputs.Screen.Capture(ctx)
		if err != nil {
			return errorJSON(c, http.StatusBadGateway, err)
		}
		req.Screenshot = frame
	}

	analysis, err := s.deps.Vision.Analyze(ctx, req)
	if err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, analysis)
}

func (s *Server) split(c echo.Context) error {
	var req splitRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	steps := s.deps.Processor.Split(req.Text)
	if steps == nil {
		steps = []store.Step{}
	}
	return c.JSON(http.StatusOK, map[string]any{"steps": steps})
}

func (s *Server) getPermissions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Permissions.States())
}

func (s *Server) requestPermission(c echo.Context) error {
	capability, err := permission.ParseCapability(c.Param("capability"))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	granted := s.deps.Permissions.Request(c.Request().Context(), capability)
	return c.JSON(http.StatusOK, map[string]any{
		"capability": capability,
		"granted":    granted,
		"error":      s.deps.Permissions.Errors()[capability],
	})
}

func (s *Server) listTasks(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	tasks, err := s.deps.Tasks.RecentTasks(limit)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	return c.JSON(http.StatusOK, tasks)
}

func (s *Server) getGuide(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"guide": s.deps.Guide.View()})
}

func (s *Server) moveGuide(c echo.Context) error {
	var req positionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if err := s.deps.Guide.Move(req.X, req.Y); err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, map[string]any{"guide": s.deps.Guide.View()})
}

func (s *Server) guideAction(c echo.Context) error {
	g := s.deps.Guide
	var err error
	switch action := c.Param("action"); action {
	case "open":
		_, err = g.Open()
	case "play":
		err = g.Play()
	case "pause":
		err = g.Pause()
	case "next":
		err = g.Next()
	case "previous":
		err = g.Previous()
	case "goto", "complete":
		var req indexRequest
		if bindErr := c.Bind(&req); bindErr != nil {
			return errorJSON(c, http.StatusBadRequest, bindErr)
		}
		if action == "goto" {
			err = g.GoTo(req.Index)
		} else {
			err = g.CompleteStep(req.Index)
		}
	case "minimize":
		err = g.SetMinimized(true)
	case "restore":
		err = g.SetMinimized(false)
	case "hide":
		err = g.Hide()
	case "show":
		err = g.Show()
	case "close":
		err = g.Close()
	case "done":
		err = g.Done()
	case "reset":
		err = g.Reset()
	default:
		return errorJSON(c, http.StatusNotFound, fmt.Errorf("unknown guide action %q", action))
	}
	if err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, map[string]any{"guide": g.View()})
}
