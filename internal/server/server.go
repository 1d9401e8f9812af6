// Package server exposes the daemon's control surface over a unix
// domain socket. Each connection carries one JSON request and one JSON
// response. Status reads proceed concurrently; mutations serialize
// through the engine's lock.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/kernwatch/kernd/internal/domain"
	"github.com/kernwatch/kernd/internal/killer"
	"github.com/kernwatch/kernd/internal/usecase"
)

// DefaultSocketPath is where the daemon listens for control requests.
const DefaultSocketPath = "/var/tmp/kernd.sock"

// connTimeout bounds a single request/response exchange.
const connTimeout = 10 * time.Second

// Request is one control call.
type Request struct {
	Method string `json:"method"`
	Name   string `json:"name,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// Response is the result envelope.
type Response struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ProcessStatus is one process in a status payload.
type ProcessStatus struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	MemoryMB   float64 `json:"memory_mb"`
	CPUPercent float64 `json:"cpu_percent"`
}

// Status is the get_status payload: a snapshot summary plus engine
// state.
type Status struct {
	CPUPercent    float64         `json:"cpu_usage"`
	MemoryPercent float64         `json:"memory_percentage"`
	MemoryTotalGB float64         `json:"total_memory_gb"`
	MemoryUsedGB  float64         `json:"used_memory_gb"`
	Temperature   float64         `json:"temperature"`
	Profile       string          `json:"profile"`
	Emergency     bool            `json:"emergency"`
	EmergencySecs float64         `json:"emergency_seconds,omitempty"`
	TopProcesses  []ProcessStatus `json:"top_processes"`
}

// Server answers control requests against the engine.
type Server struct {
	socketPath string
	engine     *usecase.Engine
	profiles   domain.PolicyStore
	sampler    domain.SnapshotProvider
	killLog    *killer.Log
	logger     *zap.Logger
}

// New creates a control server.
func New(
	socketPath string,
	engine *usecase.Engine,
	profiles domain.PolicyStore,
	sampler domain.SnapshotProvider,
	killLog *killer.Log,
	logger *zap.Logger,
) *Server {
	return &Server{
		socketPath: socketPath,
		engine:     engine,
		profiles:   profiles,
		sampler:    sampler,
		killLog:    killLog,
		logger:     logger,
	}
}

// Run listens on the socket until the context is canceled. A stale
// socket file from a previous run is removed first.
func (s *Server) Run(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		os.Remove(s.socketPath)
	}()

	s.logger.Info("control server listening", zap.String("socket", s.socketPath))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.respondErr(conn, fmt.Errorf("invalid request: %w", err))
		return
	}

	result, err := s.dispatch(ctx, req)
	if err != nil {
		s.respondErr(conn, err)
		return
	}

	raw, err := json.Marshal(result)
	if err != nil {
		s.respondErr(conn, err)
		return
	}
	_ = json.NewEncoder(conn).Encode(Response{OK: true, Result: raw})
}

func (s *Server) respondErr(conn net.Conn, err error) {
	_ = json.NewEncoder(conn).Encode(Response{OK: false, Error: err.Error()})
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Method {
	case "status":
		return s.status(ctx)
	case "current_profile":
		return s.profiles.CurrentName(), nil
	case "list_profiles":
		return s.profiles.ListNames(), nil
	case "switch_profile":
		if req.Name == "" {
			return nil, fmt.Errorf("switch_profile requires a name")
		}
		p, err := s.engine.SwitchProfile(req.Name)
		if err != nil {
			return nil, err
		}
		return p.Name, nil
	case "recent_kills":
		return s.killLog.Tail(req.Limit)
	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}

const statusTopN = 10

func (s *Server) status(ctx context.Context) (*Status, error) {
	snap, err := s.sampler.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot unavailable: %w", err)
	}

	st := s.engine.Status()
	out := &Status{
		CPUPercent:    snap.CPUPercent,
		MemoryPercent: snap.MemoryPercent,
		MemoryTotalGB: float64(snap.MemoryTotal) / (1 << 30),
		MemoryUsedGB:  float64(snap.MemoryUsed) / (1 << 30),
		Temperature:   snap.Temperature,
		Profile:       st.Profile,
		Emergency:     st.Emergency,
	}
	if st.Emergency {
		out.EmergencySecs = time.Since(st.EmergencySince).Seconds()
	}

	for i, p := range snap.Processes {
		if i == statusTopN {
			break
		}
		out.TopProcesses = append(out.TopProcesses, ProcessStatus{
			PID:        p.PID,
			Name:       p.Name,
			MemoryMB:   float64(p.MemoryBytes) / (1 << 20),
			CPUPercent: p.CPUPercent,
		})
	}
	return out, nil
}
