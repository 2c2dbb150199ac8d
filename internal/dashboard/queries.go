package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/nudge/internal/agent"
	"github.com/zulandar/nudge/internal/analyzer"
	"github.com/zulandar/nudge/internal/ledger"
	"github.com/zulandar/nudge/internal/models"
	"github.com/zulandar/nudge/internal/student"
	"github.com/zulandar/nudge/internal/tools"
)

// recentRuns is how many runs the overview lists.
const recentRuns = 10

// Overview is the payload of GET /api/dashboard.
type Overview struct {
	TotalStudents      int            `json:"total_students"`
	IncompleteProfiles int            `json:"incomplete_profiles"`
	AvgCompletion      float64        `json:"avg_completion"`
	Deadline           string         `json:"deadline"`
	DaysRemaining      int            `json:"days_remaining"`
	Ledger             ledger.Stats   `json:"ledger"`
	Running            bool           `json:"running"`
	CurrentRun         string         `json:"current_run,omitempty"`
	LastRun            *agent.Summary `json:"last_run,omitempty"`
	RecentRuns         []models.Run   `json:"recent_runs"`
	SourceError        string         `json:"source_error,omitempty"`
}

// StudentResult is one row of GET /api/results.
type StudentResult struct {
	ID            string                    `json:"id"`
	Name          string                    `json:"name"`
	Email         string                    `json:"email"`
	Completion    float64                   `json:"completion"`
	Missing       []string                  `json:"missing"`
	Status        analyzer.CompletionStatus `json:"completion_status"`
	Outcome       tools.Outcome             `json:"outcome,omitempty"`
	LastContacted *time.Time                `json:"last_contacted,omitempty"`
}

func (s *Server) overview(ctx context.Context) (Overview, error) {
	deadline := analyzer.ParseDeadline(s.opts.Config.Deadline)
	ov := Overview{
		Deadline:      s.opts.Config.Deadline,
		DaysRemaining: deadline.DaysRemaining(s.opts.Now()),
		RecentRuns:    []models.Run{},
	}

	// A broken source should not take the whole overview down.
	records, err := s.opts.Source.Records(ctx)
	if err != nil {
		ov.SourceError = err.Error()
	} else {
		ov.TotalStudents = len(records)
		ov.IncompleteProfiles = len(student.Incomplete(records))
		ov.AvgCompletion = averageCompletion(records)
	}

	stats, err := s.opts.Store.Stats(ctx)
	if err != nil {
		return Overview{}, fmt.Errorf("ledger stats: %w", err)
	}
	ov.Ledger = stats

	runs, err := s.opts.RunLog.Runs(ctx, recentRuns)
	if err != nil {
		return Overview{}, fmt.Errorf("recent runs: %w", err)
	}
	if runs != nil {
		ov.RecentRuns = runs
	}
	ov.CurrentRun, ov.Running = s.opts.Runner.Status()
	ov.LastRun = s.opts.Runner.Last()
	return ov, nil
}

func averageCompletion(records []student.Record) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.CompletionRatio()
	}
	return sum / float64(len(records)) * 100
}

func (s *Server) results(ctx context.Context) ([]StudentResult, error) {
	records, err := s.opts.Source.Records(ctx)
	if err != nil {
		return nil, err
	}
	var outcomes map[string]tools.Outcome
	if last := s.opts.Runner.Last(); last != nil {
		outcomes = last.Progress.Outcomes
	}

	out := make([]StudentResult, 0, len(records))
	for _, r := range records {
		missing := r.MissingFields()
		if missing == nil {
			missing = []string{}
		}
		row := StudentResult{
			ID:         r.ID,
			Name:       r.Name(),
			Email:      r.Email(),
			Completion: r.CompletionRatio() * 100,
			Missing:    missing,
			Status:     analyzer.ClassifyCompletion(r.CompletionRatio()),
			Outcome:    outcomes[r.ID],
		}
		hist, err := s.opts.Comm.History(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		for i := len(hist) - 1; i >= 0; i-- {
			if hist[i].Status == models.StatusSent {
				ts := hist[i].Timestamp
				row.LastContacted = &ts
				break
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// StudentHistory is the payload of GET /api/students/:id/history.
type StudentHistory struct {
	StudentID string                 `json:"student_id"`
	Contacts  []models.ContactEvent  `json:"contacts"`
	Scheduled []models.ScheduleEntry `json:"scheduled"`
	ToolCalls []models.ToolCall      `json:"tool_calls"`
}

func (s *Server) history(ctx context.Context, id string) (StudentHistory, error) {
	h := StudentHistory{StudentID: id}
	var err error
	if h.Contacts, err = s.opts.Comm.History(ctx, id); err != nil {
		return h, err
	}
	if h.Scheduled, err = s.opts.Schedule.ForRecipient(ctx, id); err != nil {
		return h, err
	}
	if h.ToolCalls, err = s.opts.RunLog.ToolCallsFor(ctx, id); err != nil {
		return h, err
	}
	if h.Contacts == nil {
		h.Contacts = []models.ContactEvent{}
	}
	if h.Scheduled == nil {
		h.Scheduled = []models.ScheduleEntry{}
	}
	if h.ToolCalls == nil {
		h.ToolCalls = []models.ToolCall{}
	}
	return h, nil
}
