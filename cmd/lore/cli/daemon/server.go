package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/varalys/lore/cmd/lore/cli/model"
	"github.com/varalys/lore/cmd/lore/cli/paths"
	"github.com/varalys/lore/cmd/lore/cli/store"
)

// currentSessionWindow bounds how far back a session may have started or
// ended and still count as "current" for a directory.
const currentSessionWindow = 30 * time.Minute

// rpcTimeout bounds a single client call including dial.
const rpcTimeout = 2 * time.Second

// request is one RPC call. One request/response pair per connection.
type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type currentSessionParams struct {
	WorkingDirectory string `json:"working_directory"`
}

// Server answers RPC queries over the daemon's unix socket.
type Server struct {
	store     *store.Store
	startedAt time.Time
}

// NewServer returns a server backed by st.
func NewServer(st *store.Store) *Server {
	return &Server{store: st, startedAt: time.Now()}
}

// Serve listens on the daemon socket until the context is cancelled.
// A stale socket file from a crashed daemon is removed first.
func (s *Server) Serve(ctx context.Context) error {
	sockPath, err := paths.DaemonSocketPath()
	if err != nil {
		return err
	}
	_ = os.Remove(sockPath)

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", sockPath, err)
	}
	defer os.Remove(sockPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(rpcTimeout))

	var req request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		writeResponse(conn, nil, fmt.Errorf("parsing request: %w", err))
		return
	}

	result, err := s.dispatch(req)
	writeResponse(conn, result, err)
}

func (s *Server) dispatch(req request) (any, error) {
	switch req.Method {
	case "ping":
		return "pong", nil
	case "status":
		return map[string]any{
			"pid":        os.Getpid(),
			"started_at": s.startedAt.UTC(),
		}, nil
	case "get_current_session":
		var params currentSessionParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return nil, fmt.Errorf("parsing params: %w", err)
			}
		}
		return s.currentSession(params.WorkingDirectory)
	default:
		return nil, fmt.Errorf("unknown method %q", req.Method)
	}
}

// currentSession returns the most recent session active in the directory
// within the window, or nil when nothing qualifies.
func (s *Server) currentSession(workingDirectory string) (*model.Session, error) {
	now := time.Now().UTC()
	sessions, err := s.store.SessionsActiveBetween(now.Add(-currentSessionWindow), now, workingDirectory)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return &sessions[0], nil
}

func writeResponse(conn net.Conn, result any, err error) {
	var resp response
	if err != nil {
		resp.Error = err.Error()
	} else if result != nil {
		data, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			resp.Error = marshalErr.Error()
		} else {
			resp.Result = data
		}
	}
	_ = json.NewEncoder(conn).Encode(resp)
}

// ErrNoCurrentSession is returned by CurrentSession when no session is
// active in the directory.
var ErrNoCurrentSession = errors.New("no active session for this directory")

// Call performs one RPC against the running daemon.
func Call(method string, params, result any) error {
	sockPath, err := paths.DaemonSocketPath()
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("unix", sockPath, rpcTimeout)
	if err != nil {
		return fmt.Errorf("%w (start it with 'lore daemon start')", ErrNotRunning)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(rpcTimeout))

	req := request{Method: method}
	if params != nil {
		data, marshalErr := json.Marshal(params)
		if marshalErr != nil {
			return fmt.Errorf("encoding params: %w", marshalErr)
		}
		req.Params = data
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	var resp response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decoding result: %w", err)
		}
	}
	return nil
}

// CurrentSession asks the daemon for the session active in the directory.
func CurrentSession(workingDirectory string) (*model.Session, error) {
	var sess *model.Session
	err := Call("get_current_session", currentSessionParams{WorkingDirectory: workingDirectory}, &sess)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoCurrentSession
	}
	slog.Debug("current session resolved", "session", sess.ID, "tool", sess.Tool)
	return sess, nil
}
