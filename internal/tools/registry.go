package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/nudge/internal/analyzer"
	"github.com/zulandar/nudge/internal/compose"
	"github.com/zulandar/nudge/internal/ledger"
	"github.com/zulandar/nudge/internal/models"
	"github.com/zulandar/nudge/internal/notify"
	"github.com/zulandar/nudge/internal/student"
	"go.uber.org/zap"
)

// ContactLedger is the part of the communication ledger the tools use.
type ContactLedger interface {
	Summary(ctx context.Context, recipientID string, minInterval time.Duration) (ledger.Summary, error)
	MayContact(ctx context.Context, recipientID string, minInterval time.Duration) (bool, error)
	Record(ctx context.Context, recipientID, subject, status string) (models.ContactEvent, error)
}

// ScheduleLedger records deferrals.
type ScheduleLedger interface {
	Defer(ctx context.Context, recipientID string, daysToWait int, reason, runID string) (models.ScheduleEntry, error)
}

// Dispatcher delivers messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, req notify.Request) (notify.Result, error)
}

// Invocation is one tool call requested by the oracle. Name is kept as the
// oracle sent it and is checked against the closed set on execution.
type Invocation struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Result is the outcome of one invocation, handed back to the oracle.
type Result struct {
	InvocationID string          `json:"invocation_id"`
	Name         string          `json:"name"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        *ErrorPayload   `json:"error,omitempty"`
}

// IsError reports whether the invocation failed.
func (r Result) IsError() bool { return r.Error != nil }

// Content is the JSON document the oracle sees for this result.
func (r Result) Content() string {
	if r.Error != nil {
		b, _ := json.Marshal(map[string]*ErrorPayload{"error": r.Error})
		return string(b)
	}
	if len(r.Output) == 0 {
		return "{}"
	}
	return string(r.Output)
}

// Aborted builds the result given to invocations that were never started
// because the run was cancelled.
func Aborted(inv Invocation) Result {
	invocationsTotal.WithLabelValues(inv.Name, KindAborted).Inc()
	return Result{
		InvocationID: inv.ID,
		Name:         inv.Name,
		Error:        &ErrorPayload{Kind: KindAborted, Message: "run aborted before this invocation started"},
	}
}

// Registry executes tool invocations for a single batch run.
type Registry struct {
	comm        ContactLedger
	schedule    ScheduleLedger
	dispatcher  Dispatcher
	composer    compose.Composer
	deadline    analyzer.Deadline
	simulate    bool
	minInterval time.Duration
	guardSends  bool
	recordSim   bool
	runID       string
	now         func() time.Time
	logger      *zap.Logger

	records []student.Record
	byID    map[string]student.Record
	pending []student.Record

	mu       sync.Mutex
	drafts   map[string]compose.Message
	outcomes map[string]Outcome
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	Records     []student.Record // the loaded batch
	Comm        ContactLedger    // required
	Schedule    ScheduleLedger   // required
	Dispatcher  Dispatcher       // required
	Composer    compose.Composer
	Deadline    analyzer.Deadline
	Simulate    bool
	MinInterval time.Duration
	// GuardSends makes send_email refuse students contacted within
	// MinInterval.
	GuardSends bool
	// RecordSimulated writes a simulated event to the communication ledger
	// for every successful simulated send.
	RecordSimulated bool
	RunID           string
	Now             func() time.Time
	Logger          *zap.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(opts RegistryOpts) (*Registry, error) {
	if opts.Comm == nil {
		return nil, fmt.Errorf("tools: communication ledger is required")
	}
	if opts.Schedule == nil {
		return nil, fmt.Errorf("tools: schedule ledger is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("tools: dispatcher is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[string]student.Record, len(opts.Records))
	for _, rec := range opts.Records {
		byID[rec.ID] = rec
	}
	return &Registry{
		comm:        opts.Comm,
		schedule:    opts.Schedule,
		dispatcher:  opts.Dispatcher,
		composer:    opts.Composer,
		deadline:    opts.Deadline,
		simulate:    opts.Simulate,
		minInterval: opts.MinInterval,
		guardSends:  opts.GuardSends,
		recordSim:   opts.RecordSimulated,
		runID:       opts.RunID,
		now:         now,
		logger:      logger.Named("tools"),
		records:     opts.Records,
		byID:        byID,
		pending:     student.Incomplete(opts.Records),
		drafts:      make(map[string]compose.Message),
		outcomes:    make(map[string]Outcome),
	}, nil
}

// Simulate reports whether deliveries in this run are simulated.
func (r *Registry) Simulate() bool { return r.simulate }

// Pending returns the incomplete students of the batch.
func (r *Registry) Pending() []student.Record {
	out := make([]student.Record, len(r.pending))
	copy(out, r.pending)
	return out
}

// Execute runs one invocation. It never returns a Go error: every failure,
// including an unknown tool name, is reported in the result.
func (r *Registry) Execute(ctx context.Context, inv Invocation) Result {
	res := Result{InvocationID: inv.ID, Name: inv.Name}

	name, err := ParseName(inv.Name)
	var out any
	if err == nil {
		out, err = r.run(ctx, name, inv.Args)
	}

	if err != nil {
		kind := Kind(err)
		res.Error = &ErrorPayload{Kind: kind, Message: err.Error()}
		invocationsTotal.WithLabelValues(metricName(name), kind).Inc()
		r.logger.Debug("tool failed",
			zap.String("tool", inv.Name),
			zap.String("kind", kind),
			zap.Error(err))
		return res
	}

	b, err := json.Marshal(out)
	if err != nil {
		res.Error = &ErrorPayload{Kind: KindInternal, Message: fmt.Sprintf("tools: encode result: %v", err)}
		invocationsTotal.WithLabelValues(string(name), KindInternal).Inc()
		return res
	}
	res.Output = b
	invocationsTotal.WithLabelValues(string(name), "ok").Inc()
	return res
}

func metricName(n Name) string {
	if n == "" {
		return "unknown"
	}
	return string(n)
}

func (r *Registry) run(ctx context.Context, name Name, raw json.RawMessage) (any, error) {
	switch name {
	case ReadStudentData:
		var a readArgs
		if err := decodeArgs(name, raw, &a); err != nil {
			return nil, err
		}
		if err := a.validate(); err != nil {
			return nil, err
		}
		return r.readStudentData(a), nil
	case CheckCommunicationHistory:
		var a studentArgs
		if err := decodeArgs(name, raw, &a); err != nil {
			return nil, err
		}
		if err := a.validate(name); err != nil {
			return nil, err
		}
		return r.checkHistory(ctx, a)
	case AnalyzeProfileStatus:
		var a studentArgs
		if err := decodeArgs(name, raw, &a); err != nil {
			return nil, err
		}
		if err := a.validate(name); err != nil {
			return nil, err
		}
		return r.analyzeProfile(a)
	case DraftMessage:
		var a draftArgs
		if err := decodeArgs(name, raw, &a); err != nil {
			return nil, err
		}
		if err := a.validate(); err != nil {
			return nil, err
		}
		return r.draftMessage(a)
	case SendEmail:
		var a sendArgs
		if err := decodeArgs(name, raw, &a); err != nil {
			return nil, err
		}
		if err := a.validate(); err != nil {
			return nil, err
		}
		return r.sendEmail(ctx, a)
	case ScheduleForLater:
		var a scheduleArgs
		if err := decodeArgs(name, raw, &a); err != nil {
			return nil, err
		}
		if err := a.validate(); err != nil {
			return nil, err
		}
		return r.scheduleForLater(ctx, a)
	case SkipStudent:
		var a skipArgs
		if err := decodeArgs(name, raw, &a); err != nil {
			return nil, err
		}
		if err := a.validate(); err != nil {
			return nil, err
		}
		return r.skipStudent(a)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
}

func (r *Registry) lookup(id string) (student.Record, error) {
	rec, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return student.Record{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return rec, nil
}

func (r *Registry) setOutcome(id string, o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[id] = o
}

func (r *Registry) analysisOf(rec student.Record) analyzer.Analysis {
	return analyzer.Analyze(analyzer.ProfileOf(rec), r.deadline, r.now())
}

type studentView struct {
	StudentID            string   `json:"student_id"`
	StudentName          string   `json:"student_name"`
	RollNumber           string   `json:"roll_number"`
	Email                string   `json:"email"`
	InstituteName        string   `json:"institute_name"`
	EnrolledProgram      string   `json:"enrolled_program"`
	Stream               string   `json:"stream"`
	MissingFields        []string `json:"missing_fields"`
	CompletionPercentage float64  `json:"completion_percentage"`
	TotalFields          int      `json:"total_fields"`
	RowIndex             int      `json:"row_index"`
}

type readOutput struct {
	Success            bool          `json:"success"`
	TotalStudents      int           `json:"total_students"`
	IncompleteProfiles int           `json:"incomplete_profiles"`
	Students           []studentView `json:"students"`
	Message            string        `json:"message"`
}

func (r *Registry) readStudentData(a readArgs) readOutput {
	list := r.pending
	if a.IncludeComplete {
		list = r.records
	}
	views := make([]studentView, 0, len(list))
	for _, rec := range list {
		missing := rec.MissingFields()
		if missing == nil {
			missing = []string{}
		}
		views = append(views, studentView{
			StudentID:            rec.ID,
			StudentName:          rec.Name(),
			RollNumber:           rec.Value("roll_number"),
			Email:                rec.Email(),
			InstituteName:        rec.Value("institute_name"),
			EnrolledProgram:      rec.Value("enrolled_program"),
			Stream:               rec.Value("stream"),
			MissingFields:        missing,
			CompletionPercentage: r.analysisOf(rec).CompletionPercent,
			TotalFields:          len(student.MandatoryFields),
			RowIndex:             rec.Row,
		})
	}
	return readOutput{
		Success:            true,
		TotalStudents:      len(r.records),
		IncompleteProfiles: len(r.pending),
		Students:           views,
		Message: fmt.Sprintf("Found %d students with incomplete profiles out of %d total",
			len(r.pending), len(r.records)),
	}
}

type historyOutput struct {
	StudentID string `json:"student_id"`
	ledger.Summary
}

func (r *Registry) checkHistory(ctx context.Context, a studentArgs) (historyOutput, error) {
	rec, err := r.lookup(a.StudentID)
	if err != nil {
		return historyOutput{}, err
	}
	sum, err := r.comm.Summary(ctx, rec.ID, r.minInterval)
	if err != nil {
		return historyOutput{}, err
	}
	return historyOutput{StudentID: rec.ID, Summary: sum}, nil
}

type analysisOutput struct {
	StudentID string `json:"student_id"`
	analyzer.Analysis
}

func (r *Registry) analyzeProfile(a studentArgs) (analysisOutput, error) {
	rec, err := r.lookup(a.StudentID)
	if err != nil {
		return analysisOutput{}, err
	}
	return analysisOutput{StudentID: rec.ID, Analysis: r.analysisOf(rec)}, nil
}

type draftOutput struct {
	Success   bool   `json:"success"`
	StudentID string `json:"student_id"`
	compose.Message
}

func (r *Registry) draftMessage(a draftArgs) (draftOutput, error) {
	rec, err := r.lookup(a.StudentID)
	if err != nil {
		return draftOutput{}, err
	}
	name := strings.TrimSpace(a.StudentName)
	if name == "" {
		name = rec.Name()
	}
	analysis := r.analysisOf(rec)
	msg, err := r.composer.Compose(name, &analysis, a.tone, a.urgency, a.Reasoning)
	if err != nil {
		return draftOutput{}, err
	}
	r.mu.Lock()
	r.drafts[rec.ID] = msg
	r.mu.Unlock()
	return draftOutput{Success: true, StudentID: rec.ID, Message: msg}, nil
}

// Draft returns the latest draft composed for a student.
func (r *Registry) Draft(studentID string) (compose.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.drafts[studentID]
	return m, ok
}

type sendOutput struct {
	Success   bool   `json:"success"`
	Sent      bool   `json:"sent"`
	DryRun    bool   `json:"dry_run"`
	StudentID string `json:"student_id"`
	Status    string `json:"status"`
	Provider  string `json:"provider,omitempty"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (r *Registry) sendEmail(ctx context.Context, a sendArgs) (sendOutput, error) {
	rec, err := r.lookup(a.StudentID)
	if err != nil {
		return sendOutput{}, err
	}

	subject, body := a.Subject, a.MessageBody
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(body) == "" {
		draft, ok := r.Draft(rec.ID)
		if !ok {
			field := "subject"
			if strings.TrimSpace(subject) != "" {
				field = "message_body"
			}
			return sendOutput{}, &InputError{Tool: SendEmail, Field: field, Msg: "is required when no draft exists for the student"}
		}
		if strings.TrimSpace(subject) == "" {
			subject = draft.Subject
		}
		if strings.TrimSpace(body) == "" {
			body = draft.Body
		}
	}

	to := rec.Email()
	if a.StudentEmail != nil {
		to = strings.TrimSpace(*a.StudentEmail)
	}

	if r.guardSends {
		ok, err := r.comm.MayContact(ctx, rec.ID, r.minInterval)
		if err != nil {
			return sendOutput{}, err
		}
		if !ok {
			return sendOutput{}, fmt.Errorf("%w: %s (%s)", ErrRateLimited, rec.ID, r.minInterval)
		}
	}

	analysis := r.analysisOf(rec)
	html, err := compose.RenderHTML(compose.HTMLInput{
		Body:              body,
		MissingFields:     analysis.MissingFields,
		CompletionPercent: analysis.CompletionPercent,
		FormURL:           r.composer.FormURL,
		SupportEmail:      r.composer.SupportEmail,
		Institute:         r.composer.Institute,
		Year:              r.now().Year(),
	})
	if err != nil {
		return sendOutput{}, fmt.Errorf("tools: render html: %w", err)
	}

	simulate := r.simulate || a.DryRun
	res, err := r.dispatcher.Dispatch(ctx, notify.Request{
		RecipientID: rec.ID,
		To:          to,
		Subject:     subject,
		PlainBody:   body,
		HTMLBody:    html,
		Simulate:    simulate,
		Provider:    a.Provider,
	})
	if res.Delivered {
		r.setOutcome(rec.ID, OutcomeSent)
	}
	if err != nil {
		if res.Delivered {
			return sendOutput{}, fmt.Errorf("tools: delivered to %s but not recorded: %w", to, err)
		}
		return sendOutput{}, err
	}

	out := sendOutput{
		Success:   true,
		Sent:      res.Delivered,
		DryRun:    simulate,
		StudentID: rec.ID,
		Status:    res.Status,
		Provider:  res.Provider,
		Subject:   subject,
		Message:   res.Detail,
	}
	if res.Event != nil {
		out.Timestamp = res.Event.Timestamp.Format(time.RFC3339)
	}

	if !res.Delivered && res.Status == models.StatusSimulated {
		r.setOutcome(rec.ID, OutcomeSimulated)
		if r.recordSim {
			ev, err := r.comm.Record(ctx, rec.ID, subject, models.StatusSimulated)
			if err != nil {
				return sendOutput{}, err
			}
			out.Timestamp = ev.Timestamp.Format(time.RFC3339)
		}
	}
	r.logger.Info("send",
		zap.String("student", rec.ID),
		zap.String("status", res.Status),
		zap.String("provider", res.Provider))
	return out, nil
}

type scheduleOutput struct {
	Success      bool   `json:"success"`
	StudentID    string `json:"student_id"`
	ScheduledFor string `json:"scheduled_for"`
	DaysToWait   int    `json:"days_to_wait"`
	Message      string `json:"message"`
}

func (r *Registry) scheduleForLater(ctx context.Context, a scheduleArgs) (scheduleOutput, error) {
	rec, err := r.lookup(a.StudentID)
	if err != nil {
		return scheduleOutput{}, err
	}
	entry, err := r.schedule.Defer(ctx, rec.ID, *a.DaysToWait, a.Reason, r.runID)
	if err != nil {
		return scheduleOutput{}, err
	}
	r.setOutcome(rec.ID, OutcomeDeferred)
	return scheduleOutput{
		Success:      true,
		StudentID:    rec.ID,
		ScheduledFor: entry.DueAt.Format("2006-01-02"),
		DaysToWait:   entry.DaysToWait,
		Message:      fmt.Sprintf("Scheduled contact for %d days from now", entry.DaysToWait),
	}, nil
}

type skipOutput struct {
	Success   bool   `json:"success"`
	StudentID string `json:"student_id"`
	Message   string `json:"message"`
}

func (r *Registry) skipStudent(a skipArgs) (skipOutput, error) {
	rec, err := r.lookup(a.StudentID)
	if err != nil {
		return skipOutput{}, err
	}
	r.setOutcome(rec.ID, OutcomeSkipped)
	r.logger.Info("skip", zap.String("student", rec.ID), zap.String("reason", a.Reason))
	return skipOutput{Success: true, StudentID: rec.ID, Message: "No action taken: " + a.Reason}, nil
}
