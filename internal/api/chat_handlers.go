package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"yacs/internal/auth"
	"yacs/internal/session"
	"yacs/pkg/types"
)

const (
	defaultMessageCount = 30
	defaultMimeType     = "application/octet-stream"

	// Room for multipart boundaries and part headers around the file
	multipartOverhead = 64 << 10
)

// uploadAction tags a submit_upload request
type uploadAction string

const (
	actionSubmit uploadAction = "submit"
	actionRecall uploadAction = "recall"
)

type uploadRequest struct {
	Action uploadAction `json:"action" form:"action"`
	ID     string       `json:"id" form:"id"`
}

// listChannels handles GET /channels
func (s *Server) listChannels(c echo.Context) error {
	info, _ := auth.SessionFrom(c)

	channels, err := s.opts.Storage.ListChannels(c.Request().Context(), info.Role == types.RoleAdmin)
	if err != nil {
		log.Error().Err(err).Str("nick", info.Nickname).Msg("failed to list channels")
		return sendError(c, http.StatusInternalServerError, "failed to list channels")
	}
	if channels == nil {
		channels = []*types.Channel{}
	}
	return c.JSON(http.StatusOK, channels)
}

// listMessages handles GET /messages/:channel?count=&offset=
func (s *Server) listMessages(c echo.Context) error {
	info, _ := auth.SessionFrom(c)

	channelID, err := strconv.ParseInt(c.Param("channel"), 10, 64)
	if err != nil || channelID == types.NoChannel {
		return sendError(c, http.StatusNotFound, "channel not found")
	}

	count, err := queryInt(c, "count", defaultMessageCount)
	if err != nil {
		return sendError(c, statusFor(err), err.Error())
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return sendError(c, statusFor(err), err.Error())
	}

	ctx := c.Request().Context()
	allowed, err := s.opts.Storage.ChannelAllowed(ctx, channelID, info.Role == types.RoleAdmin)
	if err != nil {
		log.Error().Err(err).Int64("channel", channelID).Msg("channel lookup failed")
		return sendError(c, http.StatusInternalServerError, "failed to load channel")
	}
	if !allowed {
		return sendError(c, http.StatusForbidden, ErrChannelDenied.Error())
	}

	messages, err := s.opts.Storage.FetchMessages(ctx, channelID, count, offset)
	if err != nil {
		log.Error().Err(err).Int64("channel", channelID).Msg("failed to fetch messages")
		return sendError(c, http.StatusInternalServerError, "failed to fetch messages")
	}

	deliveries := make([]types.MessageDelivery, 0, len(messages))
	for _, m := range messages {
		deliveries = append(deliveries, types.NewMessageDelivery(m))
	}
	return c.JSON(http.StatusOK, deliveries)
}

// indexUpload handles POST /index_upload and stages the file under a fresh id
// The upload lock is held while the request body streams in
func (s *Server) indexUpload(c echo.Context) error {
	info, _ := auth.SessionFrom(c)

	id := uuid.New().String()
	err := s.opts.Sessions.WithUpload(info.Nickname, func() error {
		req := c.Request()
		if s.opts.MaxUploadBytes > 0 {
			req.Body = http.MaxBytesReader(c.Response(), req.Body, s.opts.MaxUploadBytes+multipartOverhead)
		}

		fh, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return session.ErrTooLarge
			}
			return ErrMissingFile
		}

		src, err := fh.Open()
		if err != nil {
			return err
		}
		defer src.Close()

		var r io.Reader = src
		if s.opts.MaxUploadBytes > 0 {
			// One byte past the limit is enough to reject
			r = io.LimitReader(src, s.opts.MaxUploadBytes+1)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}

		mime := fh.Header.Get(echo.HeaderContentType)
		if mime == "" {
			mime = defaultMimeType
		}
		return s.opts.Sessions.StageUpload(info.Nickname, &session.PendingUpload{
			ID:       id,
			FileName: fh.Filename,
			MimeType: mime,
			Data:     data,
		})
	})
	if err != nil {
		log.Info().Err(err).Str("nick", info.Nickname).Msg("upload rejected")
		return sendError(c, statusFor(err), err.Error())
	}

	return c.JSON(http.StatusOK, map[string]string{"uuid": id})
}

// submitUpload handles POST /submit_upload {action, id}
func (s *Server) submitUpload(c echo.Context) error {
	info, _ := auth.SessionFrom(c)

	var req uploadRequest
	if err := c.Bind(&req); err != nil {
		return sendError(c, http.StatusBadRequest, "invalid request body")
	}

	switch req.Action {
	case actionSubmit:
		upload, err := s.opts.Sessions.TakePending(info.Nickname, req.ID)
		if err != nil {
			return sendError(c, statusFor(err), err.Error())
		}
		if _, err := s.opts.Blobs.Write(upload.ID, upload.FileName, upload.Data); err != nil {
			log.Error().Err(err).Str("nick", info.Nickname).Str("upload_id", upload.ID).Msg("failed to store upload")
			return sendError(c, http.StatusInternalServerError, "failed to store upload")
		}
		res := &types.Resource{ID: upload.ID, FileName: upload.FileName, MimeType: upload.MimeType}
		if err := s.opts.Storage.InsertResource(c.Request().Context(), res); err != nil {
			log.Error().Err(err).Str("nick", info.Nickname).Str("upload_id", upload.ID).Msg("failed to record upload")
			return sendError(c, http.StatusInternalServerError, "failed to record upload")
		}
		log.Info().Str("nick", info.Nickname).Str("upload_id", upload.ID).Msg("upload submitted")
		return c.JSON(http.StatusOK, map[string]string{"uuid": upload.ID})

	case actionRecall:
		if _, err := s.opts.Sessions.TakePending(info.Nickname, req.ID); err != nil {
			return sendError(c, statusFor(err), err.Error())
		}
		return c.NoContent(http.StatusOK)

	default:
		return sendError(c, statusFor(ErrUnknownAction), ErrUnknownAction.Error())
	}
}

// resourceMeta handles GET /resource_meta/:id
func (s *Server) resourceMeta(c echo.Context) error {
	res, err := s.opts.Storage.GetResource(c.Request().Context(), c.Param("id"))
	if err != nil {
		return resourceError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"filename": res.FileName,
		"mime":     res.MimeType,
	})
}

// resourceFile handles GET /resource/:id
func (s *Server) resourceFile(c echo.Context) error {
	res, err := s.opts.Storage.GetResource(c.Request().Context(), c.Param("id"))
	if err != nil {
		return resourceError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentType, res.MimeType)
	return c.Attachment(s.opts.Blobs.Path(res.ID, res.FileName), res.FileName)
}

func resourceError(c echo.Context, err error) error {
	if errors.Is(err, types.ErrNotFound) {
		return sendError(c, http.StatusNotFound, ErrNoSuchResource.Error())
	}
	log.Error().Err(err).Str("resource", c.Param("id")).Msg("resource lookup failed")
	return sendError(c, http.StatusInternalServerError, "failed to load resource")
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, ErrInvalidPaging
	}
	return n, nil
}
