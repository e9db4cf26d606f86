package api

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"feedbackhub/internal/server/service"
)

const exportFileName = "sent-files.xlsx"

// HandleListAdmins handles GET /api/fileshare/admins.
func (h *Handler) HandleListAdmins(c echo.Context) error {
	admins, err := h.files.ListAdmins(c.Request().Context(), accountID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"admins": admins})
}

// HandleShare handles POST /api/fileshare/share.
// Accepts a multipart form with exactly one "file" part plus "receiverId" and
// an optional "message".
func (h *Handler) HandleShare(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
			return h.files.TooLarge()
		}
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded")
	}

	parts := form.File["file"]
	switch {
	case len(parts) == 0:
		return echo.NewHTTPError(http.StatusBadRequest, "No file uploaded")
	case len(parts) > 1:
		return echo.NewHTTPError(http.StatusBadRequest, "Only one file may be uploaded per request")
	}
	fileHeader := parts[0]

	src, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	result, err := h.files.ShareFile(c.Request().Context(), service.ShareInput{
		SenderID:   accountID(c),
		ReceiverID: c.FormValue("receiverId"),
		FileName:   fileHeader.Filename,
		MimeType:   fileHeader.Header.Get(echo.HeaderContentType),
		Size:       fileHeader.Size,
		Message:    c.FormValue("message"),
		Content:    src,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// HandleListSent handles GET /api/fileshare/sent.
func (h *Handler) HandleListSent(c echo.Context) error {
	files, err := h.files.ListSent(c.Request().Context(), accountID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"files": files})
}

// HandleExportSent handles GET /api/fileshare/sent/export.
func (h *Handler) HandleExportSent(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.files.ExportSent(c.Request().Context(), accountID(c), &buf); err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": exportFileName}))
	return c.Blob(http.StatusOK, service.MimeXLSX, buf.Bytes())
}

// HandleListReceived handles GET /api/fileshare/received.
// Listing acknowledges delivery of pending transfers.
func (h *Handler) HandleListReceived(c echo.Context) error {
	files, err := h.files.ListReceived(c.Request().Context(), accountID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"files": files})
}

// HandleDownload handles GET /api/fileshare/download/:fileId.
// Streams the stored bytes; a receiver download marks the transfer viewed.
func (h *Handler) HandleDownload(c echo.Context) error {
	dl, err := h.files.Download(c.Request().Context(), c.Param("fileId"), accountID(c))
	if err != nil {
		return err
	}
	defer dl.Content.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": dl.FileName}))
	if dl.Size > 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(dl.Size, 10))
	}
	return c.Stream(http.StatusOK, dl.MimeType, dl.Content)
}
