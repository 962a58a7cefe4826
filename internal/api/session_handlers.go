package api

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"yacs/internal/session"
	"yacs/pkg/types"
)

type loginRequest struct {
	Nick       string `json:"nick" form:"nick"`
	Phrase     string `json:"phrase" form:"phrase"`
	Captcha    string `json:"captcha" form:"captcha"`
	Identifier string `json:"identifier" form:"identifier"`
}

type loginResponse struct {
	Nick    string `json:"nick"`
	Token   string `json:"token"`
	IsAdmin bool   `json:"is_admin"`
}

type roomRequest struct {
	Nick  string `json:"nick" form:"nick"`
	Token string `json:"token" form:"token"`
}

type roomResponse struct {
	loginResponse
	Title     string   `json:"title"`
	MOTD      string   `json:"motd"`
	Emoticons []string `json:"emoticons"`
}

// issueCaptcha handles GET /api/captcha
func (s *Server) issueCaptcha(c echo.Context) error {
	text, png, err := s.opts.Generator.Generate()
	if err != nil {
		log.Error().Err(err).Msg("captcha generation failed")
		return sendError(c, http.StatusInternalServerError, "captcha unavailable")
	}

	identifier := s.opts.Challenges.Issue(text, s.now())
	return c.JSON(http.StatusOK, map[string]string{
		"identifier": identifier,
		"image":      base64.StdEncoding.EncodeToString(png),
	})
}

// login handles POST /auth
// FUNCTIONAL DISCOVERY: The passphrase is checked before the captcha, so a wrong
// passphrase leaves the challenge unconsumed
func (s *Server) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return sendError(c, http.StatusBadRequest, "invalid request body")
	}
	if !types.IsValidNickname(req.Nick) {
		return sendError(c, http.StatusBadRequest, types.ErrInvalidNickname.Error())
	}

	role, err := s.opts.Passphrases.RoleFor(req.Phrase)
	if err != nil {
		return sendError(c, statusFor(err), "Wrong passphrase")
	}

	now := s.now()
	if !s.opts.Challenges.Verify(req.Identifier, req.Captcha, now) {
		return sendError(c, statusFor(ErrWrongCaptcha), "Wrong CAPTCHA")
	}

	token, err := s.opts.Sessions.Authenticate(req.Nick, role, now)
	if err != nil {
		if errors.Is(err, session.ErrNicknameTaken) {
			return sendError(c, statusFor(err), "User exists")
		}
		return sendError(c, statusFor(err), err.Error())
	}

	return c.JSON(http.StatusOK, loginResponse{
		Nick:    req.Nick,
		Token:   token,
		IsAdmin: role == types.RoleAdmin,
	})
}

// roomView handles POST /room
func (s *Server) roomView(c echo.Context) error {
	var req roomRequest
	if err := c.Bind(&req); err != nil {
		return sendError(c, http.StatusBadRequest, "invalid request body")
	}

	s.opts.Sessions.Sweep(s.now())

	info, err := s.opts.Sessions.Authorize(req.Nick, req.Token)
	if err != nil {
		return sendError(c, statusFor(err), err.Error())
	}

	emoticons := s.opts.Room.Emoticons
	if emoticons == nil {
		emoticons = []string{}
	}
	return c.JSON(http.StatusOK, roomResponse{
		loginResponse: loginResponse{
			Nick:    info.Nickname,
			Token:   req.Token,
			IsAdmin: info.Role == types.RoleAdmin,
		},
		Title:     s.opts.Room.Title,
		MOTD:      s.opts.Room.MOTD,
		Emoticons: emoticons,
	})
}
