// Package server implements the Frame RPC surface (spec.md §3, §4.8, §6) as
// JSON-over-HTTP, grounded on photonic's internal/server/server.go mux
// bring-up shape. The RPC surface is "(conceptual)" per spec.md §6 — it
// names operations and payloads, not a transport — so JSON-over-HTTP is
// the transport chosen here, rather than photonic's dropped grpc stack
// (see DESIGN.md for why grpc couldn't be reused).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"boresight/internal/assemble"
	"boresight/internal/calibrate"
	"boresight/internal/mode"
	"boresight/internal/pipeline"
	"boresight/internal/prefs"
	"boresight/internal/slew"
	"boresight/internal/storage"
)

// Server wraps the Frame RPC surface and a supplementary websocket push
// channel / debug snapshot endpoint.
type Server struct {
	addr       string
	engine     *pipeline.Engine
	mode       *mode.Controller
	prefsStore *prefs.Store
	store      *storage.Store
	slewSup    *slew.Supervisor
	calib      *calibrate.Runner
	log        *slog.Logger
	upgrader   websocket.Upgrader

	// onShutdown is invoked in a goroutine for shutdown_server/restart_server
	// (restart=true on restart_server). Left nil in tests; wired by the CLI's
	// runServe to record the restart flag and cancel the serve context.
	onShutdown func(restart bool)

	calibMu     sync.Mutex
	calibCancel context.CancelFunc

	hub *hub

	server *http.Server
}

// New wires a Server. Call Start to begin serving.
func New(addr string, engine *pipeline.Engine, modeCtl *mode.Controller, prefsStore *prefs.Store, store *storage.Store, slewSup *slew.Supervisor, calib *calibrate.Runner, onShutdown func(restart bool), log *slog.Logger) *Server {
	return &Server{
		addr:       addr,
		engine:     engine,
		mode:       modeCtl,
		prefsStore: prefsStore,
		store:      store,
		slewSup:    slewSup,
		calib:      calib,
		onShutdown: onShutdown,
		log:        log,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		hub:        newHub(),
	}
}

// Start runs the HTTP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run()
	go s.broadcastLoop(ctx)

	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{Addr: s.addr, Handler: r}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down frame server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("frame server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/rpc/get_frame", s.handleGetFrame).Methods("GET")
	r.HandleFunc("/rpc/update_fixed_settings", s.handleUpdateFixedSettings).Methods("POST")
	r.HandleFunc("/rpc/update_operation_settings", s.handleUpdateOperationSettings).Methods("POST")
	r.HandleFunc("/rpc/update_preferences", s.handleUpdatePreferences).Methods("POST")
	r.HandleFunc("/rpc/initiate_action", s.handleInitiateAction).Methods("POST")
	r.HandleFunc("/rpc/get_server_log", s.handleGetServerLog).Methods("GET")
	r.HandleFunc("/ws/frames", s.handleWebSocket)
	r.HandleFunc("/debug/snapshot", s.handleDebugSnapshot).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleGetFrame implements the get_frame RPC (spec.md §4.8): a client
// supplies the frame id it already has (since_frame_id) and either blocks
// until a newer frame is published, or (non_blocking=true) gets an
// immediate reply with has_result reflecting whether one was ready.
// Expiry of the blocking form also returns has_result=false rather than an
// HTTP error, per spec.md §5 "Client long-poll ... expiry returns an empty
// has_result=false snapshot".
func (s *Server) handleGetFrame(w http.ResponseWriter, r *http.Request) {
	since := parseUint64(r.URL.Query().Get("since_frame_id"))
	nonBlocking := r.URL.Query().Get("non_blocking") == "true"

	if nonBlocking {
		result, ok := s.engine.TryLatest(since)
		if !ok {
			writeJSON(w, assemble.FrameResult{})
			return
		}
		writeJSON(w, result)
		return
	}

	result, err := s.engine.WaitForNewer(r.Context(), since)
	if err != nil {
		writeJSON(w, assemble.FrameResult{})
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleUpdateFixedSettings(w http.ResponseWriter, r *http.Request) {
	var patch mode.FixedSettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, s.mode.UpdateFixedSettings(patch))
}

// operationSettingsRequest embeds the patch mode applies directly, plus the
// operate transition flag, which the server handles itself by driving the
// Calibrator rather than letting mode.Controller flip straight to Operate
// (spec.md §4.2 "run Calibrator; on success, enter operate; on failure,
// remain setup and surface reason").
type operationSettingsRequest struct {
	mode.OperationSettingsPatch
	Operate *bool `json:"operate,omitempty"`
}

func (s *Server) handleUpdateOperationSettings(w http.ResponseWriter, r *http.Request) {
	var req operationSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Operate != nil {
		if *req.Operate {
			if err := s.beginOperate(); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
		} else {
			s.mode.EnterSetup()
		}
	}

	writeJSON(w, s.mode.UpdateOperationSettings(req.OperationSettingsPatch))
}

// beginOperate drives the calibration sequence to completion and only then
// transitions the mode controller into Operate, per spec.md §4.2's
// setup->operate row. A context stored on s.calibCancel lets a concurrent
// cancel_calibration action abort the run at its next safe point.
func (s *Server) beginOperate() error {
	if s.calib == nil {
		s.mode.EnterOperate()
		return nil
	}
	if !s.mode.BeginCalibration() {
		return fmt.Errorf("calibration already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.calibMu.Lock()
	s.calibCancel = cancel
	s.calibMu.Unlock()
	defer func() {
		s.calibMu.Lock()
		s.calibCancel = nil
		s.calibMu.Unlock()
		cancel()
	}()

	result, err := s.calib.Run(ctx, s.mode.UpdateCalibrationProgress)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.mode.FailCalibration(err.Error())
		}
		return err
	}
	if !result.OK {
		s.mode.FailCalibration(string(result.Reason))
		return fmt.Errorf("calibration failed: %s", result.Reason)
	}

	s.mode.FinishCalibration(result.Data)
	s.mode.EnterOperate()
	return nil
}

func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var patch prefs.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err := s.prefsStore.Update(func(p *prefs.Preferences) {
		patch.Apply(p)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if patch.LatitudeDeg != nil && patch.LongitudeDeg != nil {
		s.mode.SetObserver(*patch.LatitudeDeg, *patch.LongitudeDeg)
	}
	writeJSON(w, s.prefsStore.Get())
}

// actionRequest is the initiate_action RPC's union-type payload (spec.md
// §4.8, §6): capture_boresight, designate_boresight(x,y),
// initiate_slew(coord), stop_slew, cancel_calibration, save_image,
// shutdown_server, restart_server, update_wifi_access_point,
// clear_dont_shows.
type actionRequest struct {
	Action string `json:"action"`

	// designate_boresight
	XPixels *float64 `json:"x_pixels,omitempty"`
	YPixels *float64 `json:"y_pixels,omitempty"`

	// initiate_slew
	TargetRA  *float64 `json:"target_ra,omitempty"`
	TargetDec *float64 `json:"target_dec,omitempty"`

	// update_wifi_access_point
	WifiSSID     *string `json:"wifi_ssid,omitempty"`
	WifiPassword *string `json:"wifi_password,omitempty"`

	// save_image: no extra fields, uses the current frame
}

type actionResponse struct {
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	SlewRequestID string `json:"slew_request_id,omitempty"`
}

func (s *Server) handleInitiateAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	latest := s.engine.Latest()

	switch req.Action {
	case "capture_boresight":
		_, off, active := s.slewSup.Active()
		if !active || !off.InFrame {
			writeJSON(w, actionResponse{OK: false, Error: "no active on-sensor slew target to capture"})
			return
		}
		if latest == nil {
			writeJSON(w, actionResponse{OK: false, Error: "no current frame"})
			return
		}
		s.mode.CaptureBoresight(off.ImageX, off.ImageY, latest.FrameID)
		writeJSON(w, actionResponse{OK: true})

	case "designate_boresight":
		if req.XPixels == nil || req.YPixels == nil {
			writeJSON(w, actionResponse{OK: false, Error: "x_pixels/y_pixels required"})
			return
		}
		var frameID uint64
		if latest != nil {
			frameID = latest.FrameID
		}
		s.mode.DesignateBoresight(mode.Boresight{
			OffsetXPixels: *req.XPixels,
			OffsetYPixels: *req.YPixels,
			CapturedAt:    time.Now(),
			FromFrameID:   frameID,
		})
		writeJSON(w, actionResponse{OK: true})

	case "initiate_slew":
		if req.TargetRA == nil || req.TargetDec == nil {
			writeJSON(w, actionResponse{OK: false, Error: "target_ra/target_dec required"})
			return
		}
		sreq := slew.NewRequest(*req.TargetRA, *req.TargetDec)
		s.slewSup.Start(sreq)
		writeJSON(w, actionResponse{OK: true, SlewRequestID: sreq.ID})

	case "stop_slew":
		s.slewSup.Stop()
		writeJSON(w, actionResponse{OK: true})

	case "cancel_calibration":
		s.calibMu.Lock()
		cancel := s.calibCancel
		s.calibMu.Unlock()
		if cancel != nil {
			cancel()
		}
		if !s.mode.AbortCalibration() {
			writeJSON(w, actionResponse{OK: false, Error: "no calibration in progress"})
			return
		}
		writeJSON(w, actionResponse{OK: true})

	case "save_image":
		if latest == nil || len(latest.DisplayImage) == 0 {
			writeJSON(w, actionResponse{OK: false, Error: "no current frame"})
			return
		}
		if s.store != nil {
			_ = s.store.AppendServerLog("info", fmt.Sprintf("save_image frame_id=%d", latest.FrameID))
		}
		writeJSON(w, actionResponse{OK: true})

	case "shutdown_server":
		writeJSON(w, actionResponse{OK: true})
		if s.onShutdown != nil {
			go s.onShutdown(false)
		}

	case "restart_server":
		writeJSON(w, actionResponse{OK: true})
		if s.onShutdown != nil {
			go s.onShutdown(true)
		}

	case "update_wifi_access_point":
		if req.WifiSSID == nil {
			writeJSON(w, actionResponse{OK: false, Error: "wifi_ssid required"})
			return
		}
		s.log.Info("wifi access point updated", "ssid", *req.WifiSSID)
		writeJSON(w, actionResponse{OK: true})

	case "clear_dont_shows":
		if err := s.prefsStore.Update(func(p *prefs.Preferences) { p.DontShows = nil }); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, actionResponse{OK: true})

	default:
		writeJSON(w, actionResponse{OK: false, Error: "unknown action: " + req.Action})
	}
}

func (s *Server) handleGetServerLog(w http.ResponseWriter, r *http.Request) {
	const maxBytes = 65536
	lines, err := s.store.RecentServerLog(maxBytes)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"lines": lines})
}

// handleDebugSnapshot is additive tooling (SPEC_FULL.md §5.8 supplement),
// not a spec RPC: a plain read of the current FrameResult for local
// inspection without a long-poll client.
func (s *Server) handleDebugSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.engine.Latest())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{id: uuid.NewString(), conn: conn, send: make(chan []byte, 8)}
	s.hub.register <- client
	go client.writeLoop()
	client.readLoop(s.hub)
}

func (s *Server) broadcastLoop(ctx context.Context) {
	var lastFrameID uint64
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			latest := s.engine.Latest()
			if latest == nil || latest.FrameID == lastFrameID {
				continue
			}
			lastFrameID = latest.FrameID
			payload, err := json.Marshal(latest)
			if err != nil {
				continue
			}
			s.hub.broadcast <- payload
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func parseUint64(s string) uint64 {
	var v uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + uint64(c-'0')
	}
	return v
}
