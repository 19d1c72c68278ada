package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types. Routing key == event type; each exchange below is a topic
// exchange bound by aggregate family.
const (
	// Organization / employee events
	EventEmployeeCreated     = "org.employee.created"
	EventEmployeeUpdated     = "org.employee.updated"
	EventEmployeeDeleted     = "org.employee.deleted"
	EventEmployeeManagerSet  = "org.employee.manager_set"

	// Leave events
	EventLeaveRequestSubmitted = "leave.request.submitted"
	EventLeaveRequestApproved  = "leave.request.approved"
	EventLeaveRequestRejected  = "leave.request.rejected"
	EventLeaveRequestCancelled = "leave.request.cancelled"
	EventLeaveBalanceAccrued   = "leave.balance.accrued"
	EventLeaveBalanceExpired   = "leave.balance.expired"

	// Attendance events
	EventAttendanceCheckIn              = "attendance.check_in"
	EventAttendanceCheckOut             = "attendance.check_out"
	EventAttendanceBreakStart           = "attendance.break_start"
	EventAttendanceBreakEnd             = "attendance.break_end"
	EventAttendanceCorrected            = "attendance.corrected"
	EventAttendanceOvertimeThreshold    = "attendance.overtime_threshold_exceeded"
	EventAttendanceRegularizationFiled  = "attendance.regularization.filed"
	EventAttendanceRegularizationClosed = "attendance.regularization.closed"

	// Payroll events
	EventPayrollRunStarted    = "payroll.run.started"
	EventPayrollRunCalculated = "payroll.run.calculated"
	EventPayrollRunApproved   = "payroll.run.approved"
	EventPayrollRunPaid       = "payroll.run.paid"
	EventPayrollRunCancelled  = "payroll.run.cancelled"

	// Workflow engine events
	EventWorkflowInstanceStarted    = "workflow.instance.started"
	EventWorkflowTaskCreated        = "workflow.task.created"
	EventWorkflowTaskActed          = "workflow.task.acted"
	EventWorkflowTaskEscalated      = "workflow.task.escalated"
	EventWorkflowTaskExpired        = "workflow.task.expired"
	EventWorkflowInstanceCompleted  = "workflow.instance.completed"
	EventWorkflowInstanceCancelled  = "workflow.instance.cancelled"
	EventWorkflowInstanceRejected   = "workflow.instance.rejected"

	// System events
	EventInvariantViolated = "system.invariant_violated"
)

// Exchange names — one topic exchange per aggregate family. Consumer queues
// dead-letter to the shared "dlx.events" exchange declared in rabbitmq.go;
// DeadLetterExchangeSuffix is not used by the declarations. Outbox entries
// that exhaust their attempts stay in event_outbox as dead_letter rows
// (see internal/outbox).
const (
	ExchangeOrgEvents      = "hrcore.org"
	ExchangeLeaveEvents    = "hrcore.leave"
	ExchangeAttendanceEvents = "hrcore.attendance"
	ExchangePayrollEvents  = "hrcore.payroll"
	ExchangeWorkflowEvents = "hrcore.workflow"

	DeadLetterExchangeSuffix = ".dlx"
)

// Event is the base event structure carried over the wire and, before that,
// persisted as an outbox row's payload.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data.
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct.
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Organization events

// EmployeeCreatedEvent is published when an employee is created.
type EmployeeCreatedEvent struct {
	EmployeeID string  `json:"employee_id"`
	Email      string  `json:"email"`
	FirstName  string  `json:"first_name"`
	LastName   string  `json:"last_name"`
	Department *string `json:"department,omitempty"`
	ManagerID  *string `json:"manager_id,omitempty"`
}

// EmployeeUpdatedEvent is published when an employee is updated.
type EmployeeUpdatedEvent struct {
	EmployeeID string `json:"employee_id"`
}

// EmployeeDeletedEvent is published when an employee is deleted.
type EmployeeDeletedEvent struct {
	EmployeeID string `json:"employee_id"`
	DeletedBy  string `json:"deleted_by"`
}

// EmployeeManagerSetEvent is published when an employee's manager changes.
type EmployeeManagerSetEvent struct {
	EmployeeID string  `json:"employee_id"`
	ManagerID  *string `json:"manager_id,omitempty"`
	SetBy      string  `json:"set_by"`
}

// Leave events

// LeaveRequestSubmittedEvent is published when a leave request is submitted.
type LeaveRequestSubmittedEvent struct {
	LeaveRequestID string    `json:"leave_request_id"`
	EmployeeID     string    `json:"employee_id"`
	LeaveTypeID    string    `json:"leave_type_id"`
	FromDate       time.Time `json:"from_date"`
	ToDate         time.Time `json:"to_date"`
	WorkingDays    string    `json:"working_days"`
}

// LeaveRequestApprovedEvent is published when a leave request is approved.
type LeaveRequestApprovedEvent struct {
	LeaveRequestID string `json:"leave_request_id"`
	ApproverID     string `json:"approver_id"`
}

// LeaveRequestRejectedEvent is published when a leave request is rejected.
type LeaveRequestRejectedEvent struct {
	LeaveRequestID string `json:"leave_request_id"`
	ApproverID     string `json:"approver_id"`
	Reason         string `json:"reason"`
}

// LeaveRequestCancelledEvent is published when a leave request is cancelled.
type LeaveRequestCancelledEvent struct {
	LeaveRequestID string `json:"leave_request_id"`
	CancelledBy    string `json:"cancelled_by"`
}

// LeaveBalanceAccruedEvent is published when an accrual run credits a balance.
type LeaveBalanceAccruedEvent struct {
	LeaveBalanceID string `json:"leave_balance_id"`
	EmployeeID     string `json:"employee_id"`
	LeaveTypeID    string `json:"leave_type_id"`
	Days           string `json:"days"`
}

// LeaveBalanceExpiredEvent is published when carried-forward days expire.
type LeaveBalanceExpiredEvent struct {
	LeaveBalanceID string `json:"leave_balance_id"`
	EmployeeID     string `json:"employee_id"`
	Days           string `json:"days"`
}

// Attendance events

// AttendanceCheckInEvent is published when an employee checks in.
type AttendanceCheckInEvent struct {
	AttendanceRecordID string    `json:"attendance_record_id"`
	EmployeeID         string    `json:"employee_id"`
	CheckIn            time.Time `json:"check_in"`
	IsManualEntry      bool      `json:"is_manual_entry"`
}

// AttendanceCheckOutEvent is published when an employee checks out.
type AttendanceCheckOutEvent struct {
	AttendanceRecordID string    `json:"attendance_record_id"`
	EmployeeID         string    `json:"employee_id"`
	CheckIn            time.Time `json:"check_in"`
	CheckOut           time.Time `json:"check_out"`
	WorkingHours       float64   `json:"working_hours"`
	OvertimeHours      float64   `json:"overtime_hours"`
	IsManualEntry      bool      `json:"is_manual_entry"`
}

// AttendanceBreakStartEvent is published when an employee starts a break.
type AttendanceBreakStartEvent struct {
	BreakID            string    `json:"break_id"`
	AttendanceRecordID string    `json:"attendance_record_id"`
	EmployeeID         string    `json:"employee_id"`
	StartTime          time.Time `json:"start_time"`
}

// AttendanceBreakEndEvent is published when an employee ends a break.
type AttendanceBreakEndEvent struct {
	BreakID            string    `json:"break_id"`
	AttendanceRecordID string    `json:"attendance_record_id"`
	EmployeeID         string    `json:"employee_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	DurationMinutes    int       `json:"duration_minutes"`
}

// AttendanceCorrectedEvent is published when a regularization amends a record.
type AttendanceCorrectedEvent struct {
	AttendanceRecordID string `json:"attendance_record_id"`
	EmployeeID         string `json:"employee_id"`
	CorrectedBy        string `json:"corrected_by"`
}

// AttendanceOvertimeThresholdEvent is the best-effort advisory event emitted
// after a check-out whose overtime exceeds the organization's threshold.
type AttendanceOvertimeThresholdEvent struct {
	AttendanceRecordID string  `json:"attendance_record_id"`
	EmployeeID         string  `json:"employee_id"`
	OvertimeHours      float64 `json:"overtime_hours"`
	ThresholdHours      float64 `json:"threshold_hours"`
}

// AttendanceRegularizationFiledEvent is published when a regularization
// request is filed against an attendance record.
type AttendanceRegularizationFiledEvent struct {
	RegularizationID   string `json:"regularization_id"`
	AttendanceRecordID string `json:"attendance_record_id"`
	EmployeeID         string `json:"employee_id"`
}

// AttendanceRegularizationClosedEvent is published when a regularization
// request is approved or rejected.
type AttendanceRegularizationClosedEvent struct {
	RegularizationID string `json:"regularization_id"`
	Approved         bool   `json:"approved"`
	DecidedBy        string `json:"decided_by"`
}

// Payroll events

// PayrollRunStartedEvent is published when a payroll run moves to in_progress.
type PayrollRunStartedEvent struct {
	PayrollRunID string    `json:"payroll_run_id"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
}

// PayrollRunCalculatedEvent is published when a payroll run is calculated.
type PayrollRunCalculatedEvent struct {
	PayrollRunID string `json:"payroll_run_id"`
	ContentHash  string `json:"content_hash"`
	LineItemCount int   `json:"line_item_count"`
}

// PayrollRunApprovedEvent is published when a payroll run is approved.
type PayrollRunApprovedEvent struct {
	PayrollRunID string `json:"payroll_run_id"`
	ApproverID   string `json:"approver_id"`
}

// PayrollRunPaidEvent is published when a payroll run is marked paid.
type PayrollRunPaidEvent struct {
	PayrollRunID string `json:"payroll_run_id"`
}

// PayrollRunCancelledEvent is published when a payroll run is cancelled.
type PayrollRunCancelledEvent struct {
	PayrollRunID string `json:"payroll_run_id"`
	Reason       string `json:"reason"`
}

// Workflow events

// WorkflowInstanceStartedEvent is published when a workflow instance is instantiated.
type WorkflowInstanceStartedEvent struct {
	InstanceID     string `json:"instance_id"`
	DefinitionCode string `json:"definition_code"`
	SubjectType    string `json:"subject_type"`
	SubjectID      string `json:"subject_id"`
}

// WorkflowTaskCreatedEvent is published when a task is created for an approver.
type WorkflowTaskCreatedEvent struct {
	TaskID     string `json:"task_id"`
	InstanceID string `json:"instance_id"`
	NodeCode   string `json:"node_code"`
}

// WorkflowTaskActedEvent is published when a task receives a decision.
type WorkflowTaskActedEvent struct {
	TaskID     string `json:"task_id"`
	InstanceID string `json:"instance_id"`
	ActorID    string `json:"actor_id"`
	Decision   string `json:"decision"`
}

// WorkflowTaskEscalatedEvent is published when a task is escalated past its SLA.
type WorkflowTaskEscalatedEvent struct {
	TaskID     string `json:"task_id"`
	InstanceID string `json:"instance_id"`
	EscalatedTo string `json:"escalated_to"`
}

// WorkflowTaskExpiredEvent is published when a task transitions to expired,
// either as a quorum-losing sibling once a parallel node's first approval
// resolves it, or past its hard sla_hours+escalation_after_hours deadline.
type WorkflowTaskExpiredEvent struct {
	TaskID     string `json:"task_id"`
	InstanceID string `json:"instance_id"`
	Reason     string `json:"reason"`
}

// WorkflowInstanceCompletedEvent is published when an instance reaches a terminal node.
type WorkflowInstanceCompletedEvent struct {
	InstanceID string `json:"instance_id"`
	Outcome    string `json:"outcome"`
}

// WorkflowInstanceCancelledEvent is published when an instance is cancelled.
type WorkflowInstanceCancelledEvent struct {
	InstanceID  string `json:"instance_id"`
	CancelledBy string `json:"cancelled_by"`
}

// WorkflowInstanceRejectedEvent is published when an instance is rejected
// outside of a normal approval decision, e.g. an SLA-driven hard expiry.
type WorkflowInstanceRejectedEvent struct {
	InstanceID string `json:"instance_id"`
	Cause      string `json:"cause"`
}

// InvariantViolatedEvent is published when a module detects a post-commit
// invariant violation and moves its aggregate into an error state.
type InvariantViolatedEvent struct {
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id"`
	Message       string `json:"message"`
}

// GenerateEventID generates a unique event ID.
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
