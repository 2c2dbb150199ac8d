// Package tools implements the fixed set of operations the decision oracle
// may request during a batch run, along with their published schema.
package tools

import "fmt"

// Name identifies a registered tool.
type Name string

const (
	ReadStudentData           Name = "read_student_data"
	CheckCommunicationHistory Name = "check_communication_history"
	AnalyzeProfileStatus      Name = "analyze_profile_status"
	DraftMessage              Name = "draft_message"
	SendEmail                 Name = "send_email"
	ScheduleForLater          Name = "schedule_for_later"
	SkipStudent               Name = "skip_student"
)

// Names lists every tool in schema order.
var Names = []Name{
	ReadStudentData,
	CheckCommunicationHistory,
	AnalyzeProfileStatus,
	DraftMessage,
	SendEmail,
	ScheduleForLater,
	SkipStudent,
}

// ParseName maps a name requested by the oracle onto the closed set. Names
// are matched exactly.
func ParseName(s string) (Name, error) {
	for _, n := range Names {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, s)
}
