package handler

import (
	"net/http"
	"time"

	"github.com/neboloop/wabot/internal/httputil"
	"github.com/neboloop/wabot/internal/scheduler"
	"github.com/neboloop/wabot/internal/svc"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type StatusResponse struct {
	Phase      string   `json:"phase"`
	Registered bool     `json:"registered"`
	Ready      bool     `json:"ready"`
	Status     string   `json:"status"`
	Observers  int      `json:"observers"`
	Scheduled  int      `json:"scheduled"`
	Commands   []string `json:"commands"`
}

func HealthCheckHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := svcCtx.Version
		if version == "" {
			version = "dev"
		}
		httputil.OkJSON(w, &HealthResponse{
			Status:    "healthy",
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// SessionStatusHandler reports the session phase and daemon counters.
func SessionStatusHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := svcCtx.Session.State()
		httputil.OkJSON(w, &StatusResponse{
			Phase:      st.Phase.String(),
			Registered: st.Registered,
			Ready:      svcCtx.Session.IsReady(),
			Status:     svcCtx.Session.StatusText(),
			Observers:  svcCtx.Hub.Count(),
			Scheduled:  svcCtx.Store.Len(),
			Commands:   svcCtx.Commands.List(),
		})
	}
}

// ListScheduledHandler returns pending scheduled messages, earliest first.
func ListScheduledHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := svcCtx.Store.List()
		if list == nil {
			list = []scheduler.Message{}
		}
		httputil.OkJSON(w, list)
	}
}
