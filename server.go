package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"worldbuilder/config"
	"worldbuilder/core"
	"worldbuilder/world"
)

const maxSampleHeight = 720

// Snapshot is a lat/lon raster of location queries, rows north to south.
type Snapshot struct {
	Type     string  `json:"type"`
	Run      string  `json:"run"`
	Age      float64 `json:"age"`
	Sealevel float64 `json:"sealevel"`
	Plates   int     `json:"plates"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`

	Elevation     []float64 `json:"elevation"`
	Sediment      []float64 `json:"sediment"`
	Temperature   []float64 `json:"temperature"`
	Precipitation []float64 `json:"precipitation"`
	PlateIDs      []uint32  `json:"plateIds"`
}

// controlMessage is sent by clients. Absent fields are left alone.
type controlMessage struct {
	Pause      *bool `json:"pause"`
	Resolution *int  `json:"resolution"`
}

// locationReply answers a point query. Lat and Lon are in degrees.
type locationReply struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Age float64 `json:"age"`
	world.Location
}

type client struct {
	mu      sync.Mutex // serializes writes
	limiter *rate.Limiter
	width   int
	height  int
}

func (c *client) resolution() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Server streams snapshots of a running simulation to websocket clients.
type Server struct {
	runner   *Runner
	settings config.ServerSettings
	log      *zap.Logger
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]*client
}

func NewServer(runner *Runner, settings config.ServerSettings, logger *zap.Logger) *Server {
	return &Server{
		runner:   runner,
		settings: settings,
		log:      logger.Named("server"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // local tool, any origin
			},
		},
		clients: make(map[*websocket.Conn]*client),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /location", s.handleLocation)
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.settings.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", zap.String("address", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) newClient() *client {
	interval := time.Duration(s.settings.UpdateIntervalMs) * time.Millisecond
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &client{
		limiter: rate.NewLimiter(limit, 1),
		width:   s.settings.SampleWidth,
		height:  s.settings.SampleHeight,
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := s.newClient()
	s.clientsMu.Lock()
	s.clients[conn] = c
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, conn)
		s.clientsMu.Unlock()
	}()
	s.log.Debug("client connected", zap.String("remote", r.RemoteAddr))

	width, height := c.resolution()
	if err := s.send(conn, c, s.snapshot(width, height)); err != nil {
		s.log.Debug("initial snapshot failed", zap.Error(err))
		return
	}

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			s.log.Debug("client disconnected", zap.Error(err))
			return
		}
		s.control(c, msg)
	}
}

// parseGeographic reads lat and lon in degrees. Longitude wraps; latitude
// must be within [-90, 90].
func parseGeographic(latText, lonText string) (core.Geographic, error) {
	lat, err := strconv.ParseFloat(latText, 64)
	if err != nil {
		return core.Geographic{}, fmt.Errorf("lat: %w", err)
	}
	lon, err := strconv.ParseFloat(lonText, 64)
	if err != nil {
		return core.Geographic{}, fmt.Errorf("lon: %w", err)
	}
	if math.IsInf(lon, 0) || math.Abs(lat) > 90 {
		return core.Geographic{}, fmt.Errorf("lat %v lon %v out of range", lat, lon)
	}
	g := core.NormalizeCoordinates(core.Geographic{
		Lat: core.DegreesToRadians(lat),
		Lon: core.DegreesToRadians(lon),
	})
	if !core.ValidateCoordinates(g) {
		return core.Geographic{}, fmt.Errorf("lat %v lon %v is not a location", lat, lon)
	}
	return g, nil
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	g, err := parseGeographic(q.Get("lat"), q.Get("lon"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply := locationReply{
		Lat: core.RadiansToDegrees(g.Lat),
		Lon: core.RadiansToDegrees(g.Lon),
	}
	s.runner.View(func(wd *world.World) {
		reply.Age = wd.Age()
		reply.Location = wd.LocationInfo(core.GeographicToVector(g))
	})
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		s.log.Debug("location reply failed", zap.Error(err))
	}
}

func (s *Server) control(c *client, msg controlMessage) {
	if msg.Pause != nil {
		s.runner.SetPaused(*msg.Pause)
	}
	if msg.Resolution != nil {
		height := max(1, min(*msg.Resolution, maxSampleHeight))
		c.mu.Lock()
		c.width, c.height = 2*height, height
		c.mu.Unlock()
	}
}

func (s *Server) send(conn *websocket.Conn, c *client, snap Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conn.WriteJSON(snap)
}

// Broadcast pushes a snapshot to every client whose rate limit allows one.
// Clients sharing a resolution share the snapshot.
func (s *Server) Broadcast(world.UpdateTask) {
	type size struct{ width, height int }
	snapshots := make(map[size]Snapshot)

	s.clientsMu.RLock()
	var failed []*websocket.Conn
	for conn, c := range s.clients {
		if !c.limiter.Allow() {
			continue
		}
		width, height := c.resolution()
		key := size{width, height}
		snap, ok := snapshots[key]
		if !ok {
			snap = s.snapshot(width, height)
			snapshots[key] = snap
		}
		if err := s.send(conn, c, snap); err != nil {
			s.log.Debug("websocket write failed", zap.Error(err))
			failed = append(failed, conn)
		}
	}
	s.clientsMu.RUnlock()

	if len(failed) > 0 {
		s.clientsMu.Lock()
		for _, conn := range failed {
			conn.Close()
			delete(s.clients, conn)
		}
		s.clientsMu.Unlock()
	}
}

func (s *Server) snapshot(width, height int) Snapshot {
	var snap Snapshot
	s.runner.View(func(w *world.World) {
		snap = BuildSnapshot(w, width, height)
	})
	snap.Run = s.runner.ID().String()
	return snap
}

// BuildSnapshot samples w on a width x height raster. Rows are queried in
// parallel on the world's worker pool.
func BuildSnapshot(w *world.World, width, height int) Snapshot {
	points := core.SampleGrid(width, height)
	n := len(points)
	snap := Snapshot{
		Type:          "snapshot",
		Age:           w.Age(),
		Sealevel:      w.Attributes().Sealevel,
		Plates:        w.PlateCount(),
		Width:         width,
		Height:        height,
		Elevation:     make([]float64, n),
		Sediment:      make([]float64, n),
		Temperature:   make([]float64, n),
		Precipitation: make([]float64, n),
		PlateIDs:      make([]uint32, n),
	}
	if n == 0 {
		return snap
	}
	// location queries only read the world
	_ = w.Pool().Run(height, func(row int) error {
		for i := row * width; i < (row+1)*width; i++ {
			loc := w.LocationInfo(points[i])
			snap.Elevation[i] = loc.Elevation
			snap.Sediment[i] = loc.Sediment
			snap.Temperature[i] = loc.Temperature
			snap.Precipitation[i] = loc.Precipitation
			snap.PlateIDs[i] = loc.Plate
		}
		return nil
	})
	return snap
}
