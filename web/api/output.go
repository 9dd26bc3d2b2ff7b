package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/journal"
	"github.com/hochfrequenz/levelup/internal/statestore"
)

const outputPollInterval = time.Second

// streamOutput upgrades to a websocket and tails the run's journal: the
// current contents first, then whatever the engine appends. Read-only;
// client frames are ignored except to notice the peer going away.
func (s *Server) streamOutput(w http.ResponseWriter, r *http.Request, id string) {
	run, err := s.store.GetRun(id)
	if errors.Is(err, statestore.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pc, err := domain.RestoreContext(run.ContextJSON)
	if err != nil {
		writeError(w, http.StatusConflict, "run has no journal yet")
		return
	}
	path := journal.New(pc, s.log).Path()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	s.log.Debug().Str("run_id", id).Str("journal", path).Msg("journal tail attached")

	var offset int64
	ticker := time.NewTicker(outputPollInterval)
	defer ticker.Stop()
	for {
		offset, err = sendNewBytes(conn, path, offset)
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sendNewBytes ships journal bytes past offset to the client. A missing
// journal file is not an error; the engine may not have written it yet.
func sendNewBytes(conn *websocket.Conn, path string, offset int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return offset, nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() <= offset {
		return offset, nil
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return offset, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return offset, err
	}
	return offset + int64(len(data)), nil
}
