package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"yacs/pkg/types"
)

type channelRequest struct {
	Name string `json:"name" form:"name"`
}

// listOnline handles GET /online
func (s *Server) listOnline(c echo.Context) error {
	return c.JSON(http.StatusOK, s.opts.Sessions.List())
}

// createChannel handles POST /channel
func (s *Server) createChannel(c echo.Context) error {
	name, err := bindChannelName(c)
	if err != nil {
		return sendError(c, statusFor(err), err.Error())
	}

	id, err := s.opts.Storage.CreateChannel(c.Request().Context(), name)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("failed to create channel")
		return sendError(c, statusFor(err), "failed to create channel")
	}

	s.opts.Protocol.NotifyChannelsUpdated()
	log.Info().Int64("channel", id).Str("name", name).Msg("channel created")
	return c.JSON(http.StatusOK, map[string]int64{"id": id})
}

// renameChannel handles PUT /channel/:id
func (s *Server) renameChannel(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return sendError(c, statusFor(err), err.Error())
	}
	name, err := bindChannelName(c)
	if err != nil {
		return sendError(c, statusFor(err), err.Error())
	}

	if err := s.opts.Storage.RenameChannel(c.Request().Context(), id, name); err != nil {
		log.Error().Err(err).Int64("channel", id).Msg("failed to rename channel")
		return sendError(c, statusFor(err), "failed to rename channel")
	}

	s.opts.Protocol.NotifyChannelsUpdated()
	return c.NoContent(http.StatusOK)
}

// toggleChannelPrivacy handles PUT /channel/:id/privacy
func (s *Server) toggleChannelPrivacy(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return sendError(c, statusFor(err), err.Error())
	}

	if err := s.opts.Storage.ToggleChannelPrivacy(c.Request().Context(), id); err != nil {
		log.Error().Err(err).Int64("channel", id).Msg("failed to toggle channel privacy")
		return sendError(c, statusFor(err), "failed to update channel")
	}

	s.opts.Protocol.NotifyChannelsUpdated()
	return c.NoContent(http.StatusOK)
}

// deleteChannel handles DELETE /channel/:id
func (s *Server) deleteChannel(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return sendError(c, statusFor(err), err.Error())
	}

	if err := s.opts.Storage.DeleteChannel(c.Request().Context(), id); err != nil {
		log.Error().Err(err).Int64("channel", id).Msg("failed to delete channel")
		return sendError(c, statusFor(err), "failed to delete channel")
	}

	s.opts.Protocol.NotifyChannelsUpdated()
	log.Info().Int64("channel", id).Msg("channel deleted")
	return c.NoContent(http.StatusOK)
}

// kickUser handles DELETE /online/:name
func (s *Server) kickUser(c echo.Context) error {
	if err := s.opts.Protocol.Kick(c.Param("name")); err != nil {
		return sendError(c, statusFor(err), err.Error())
	}
	return c.NoContent(http.StatusOK)
}

// expireResource handles DELETE /resource/:id
func (s *Server) expireResource(c echo.Context) error {
	id := c.Param("id")
	if err := s.opts.Storage.MarkResourceExpired(c.Request().Context(), id); err != nil {
		log.Error().Err(err).Str("resource", id).Msg("failed to expire resource")
		return sendError(c, http.StatusBadRequest, "failed to expire resource")
	}
	return c.NoContent(http.StatusOK)
}

// deleteMessage handles DELETE /message/:id
func (s *Server) deleteMessage(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return sendError(c, statusFor(err), err.Error())
	}

	if err := s.opts.Protocol.DeleteMessage(c.Request().Context(), id); err != nil {
		return sendError(c, http.StatusBadRequest, "failed to delete message")
	}
	return c.NoContent(http.StatusOK)
}

func bindChannelName(c echo.Context) (string, error) {
	var req channelRequest
	if err := c.Bind(&req); err != nil {
		return "", types.ErrInvalidChannelName
	}
	ch := &types.Channel{Name: req.Name}
	if err := ch.Validate(); err != nil {
		return "", err
	}
	return ch.Name, nil
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}
