package handler

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github-relay-go/internal/service"
)

// usageHint is returned with MissingParameter errors.
const usageHint = "/download?url=GITHUB_URL"

// errorResponse is the JSON body of every failed relay. Fields other than Error
// are set according to the failure kind.
type errorResponse struct {
	Error       string `json:"error"`
	Usage       string `json:"usage,omitempty"`
	ReceivedURL string `json:"received_url,omitempty"`
	URL         string `json:"url,omitempty"`
	Status      int    `json:"status,omitempty"`
	Details     string `json:"details,omitempty"`
}

func (h *DownloadHandler) mapError(c echo.Context, f *service.Failure) error {
	code, body := h.failureResponse(f)

	attrs := []any{
		"kind", f.Kind.String(),
		"url", f.URL,
		"status", code,
	}
	if f.Err != nil {
		attrs = append(attrs, "err", h.via.Sanitize(f.Err.Error()))
	}
	if code >= http.StatusInternalServerError {
		h.logger.Error("relay failed", attrs...)
	} else {
		h.logger.Warn("relay rejected", attrs...)
	}

	return c.JSON(code, body)
}

// failureResponse maps a failure to its HTTP status and payload.
func (h *DownloadHandler) failureResponse(f *service.Failure) (int, errorResponse) {
	switch f.Kind {
	case service.KindMissingParameter:
		return http.StatusBadRequest, errorResponse{
			Error: "missing url parameter",
			Usage: usageHint,
		}
	case service.KindDomainNotAllowed:
		return http.StatusBadRequest, errorResponse{
			Error:       "only URLs on allowed domains can be relayed",
			ReceivedURL: f.URL,
		}
	case service.KindUpstreamTimeout:
		return http.StatusGatewayTimeout, errorResponse{
			Error: "download timed out",
			URL:   f.URL,
		}
	case service.KindUpstreamHTTPError:
		return http.StatusInternalServerError, errorResponse{
			Error:   "download failed",
			URL:     f.URL,
			Status:  f.Status,
			Details: fmt.Sprintf("upstream responded %d %s", f.Status, http.StatusText(f.Status)),
		}
	default:
		resp := errorResponse{Error: "internal server error"}
		if f.Err != nil {
			resp.Details = h.via.Sanitize(f.Err.Error())
		}
		return http.StatusInternalServerError, resp
	}
}
