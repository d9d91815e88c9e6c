package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/charge-controller/internal/journal"
	"github.com/sweeney/charge-controller/internal/logic"
)

const maxCommandBody = 1 << 10

type eventsResponse struct {
	Events []journal.Entry `json:"events"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	Command  string `json:"command"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// parseFilter reads ?from=&to= (RFC3339), ?state= and ?limit= from the query.
func parseFilter(c *gin.Context) (journal.Filter, error) {
	var f journal.Filter
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid %s: want RFC3339 timestamp", p.key)
		}
		*p.dst = t
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.To.Before(f.From) {
		return f, errors.New("to is before from")
	}

	if v := c.Query("state"); v != "" {
		st := logic.State(strings.ToUpper(v))
		valid := false
		for _, s := range logic.States {
			if s == st {
				valid = true
				break
			}
		}
		if !valid {
			return f, fmt.Errorf("invalid state %q", v)
		}
		f.State = st
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > journal.DefaultLimit {
			return f, fmt.Errorf("limit must be between 1 and %d", journal.DefaultLimit)
		}
		f.Limit = n
	}
	return f, nil
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal disabled"})
		return
	}
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entries, err := s.events.List(c.Request.Context(), f)
	if err != nil {
		s.log.Errorw("list journal", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read journal"})
		return
	}
	c.JSON(http.StatusOK, eventsResponse{Events: entries})
}

// readCommand accepts either {"command": "..."} or a plain text body.
func readCommand(c *gin.Context) (string, error) {
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req commandRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", errors.New("invalid JSON body")
		}
		return strings.TrimSpace(req.Command), nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBody))
	if err != nil {
		return "", errors.New("failed to read body")
	}
	return strings.TrimSpace(string(body)), nil
}

func (s *Server) handleCommand(c *gin.Context) {
	if s.commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands disabled"})
		return
	}
	line, err := readCommand(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if line == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty command"})
		return
	}

	resp, err := s.commands.Execute(line)
	if err != nil {
		c.JSON(http.StatusBadRequest, commandResponse{Command: line, Error: err.Error()})
		return
	}
	s.log.Infow("http command", "command", line, "remote", c.ClientIP())
	c.JSON(http.StatusOK, commandResponse{Command: line, Response: resp})
}
