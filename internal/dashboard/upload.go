package dashboard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/nudge/internal/student"
	"go.uber.org/zap"
)

// maxUploadBytes caps a roster upload.
const maxUploadBytes = 10 << 20

func (s *Server) handleStudents(c *gin.Context) {
	records, err := s.opts.Source.Records(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}
	if records == nil {
		records = []student.Record{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"count":      len(records),
		"incomplete": len(student.Incomplete(records)),
		"students":   records,
	})
}

// handleUpload replaces the CSV roster. The upload is parsed before it
// touches the configured file, and the swap is a rename so a concurrent
// reader sees either the old roster or the new one.
func (s *Server) handleUpload(c *gin.Context) {
	src := s.opts.Config.Source
	if src.Kind != "csv" {
		s.fail(c, http.StatusConflict, fmt.Errorf("uploads need a csv source, configured source is %q", src.Kind))
		return
	}
	if _, running := s.opts.Runner.Status(); running {
		s.fail(c, http.StatusConflict, errors.New("a run is in progress"))
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("no file provided: %w", err))
		return
	}
	if ext := strings.ToLower(filepath.Ext(fh.Filename)); ext != ".csv" {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("unsupported file type %q (want .csv)", ext))
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	records, err := student.ReadCSV(bytes.NewReader(data))
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	if len(records) == 0 {
		s.fail(c, http.StatusBadRequest, errors.New("file has no student rows"))
		return
	}

	if err := replaceFile(src.Path, data); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("roster replaced",
		zap.String("filename", fh.Filename),
		zap.String("path", src.Path),
		zap.Int("records", len(records)),
	)
	c.JSON(http.StatusOK, gin.H{
		"filename":   fh.Filename,
		"path":       src.Path,
		"records":    len(records),
		"incomplete": len(student.Incomplete(records)),
	})
}

func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*.csv")
	if err != nil {
		return fmt.Errorf("dashboard: stage upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("dashboard: stage upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("dashboard: stage upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("dashboard: replace %s: %w", path, err)
	}
	return nil
}
