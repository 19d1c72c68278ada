package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EmployeeFixture represents test employee data
type EmployeeFixture struct {
	ID           string
	EmployeeCode string
	FirstName    string
	LastName     string
	Email        string
	JobTitle     string
	Department   string
	ManagerID    *string
	HireDate     time.Time
	Status       string
	CreatedAt    time.Time
}

// LeaveTypeFixture represents test leave type data
type LeaveTypeFixture struct {
	ID               string
	Code             string
	Name             string
	Paid             bool
	RequiresApproval bool
}

// LeaveBalanceFixture represents test leave balance data
type LeaveBalanceFixture struct {
	ID          string
	EmployeeID  string
	LeaveTypeID string
	Year        int
	Allocated   float64
	Used        float64
	Pending     float64
}

// AttendanceRecordFixture represents test attendance record data
type AttendanceRecordFixture struct {
	ID             string
	EmployeeID     string
	WorkDate       time.Time
	CheckIn        time.Time
	CheckOut       *time.Time
	ScheduledHours float64
	Status         string
}

// PayrollRunFixture represents test payroll run data
type PayrollRunFixture struct {
	ID           string
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Status       string
}

// WorkflowDefinitionFixture represents test workflow definition data
type WorkflowDefinitionFixture struct {
	ID          string
	Code        string
	Version     int
	Name        string
	SubjectType string
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Employee creates an employee fixture with defaults
func (f *FixtureFactory) Employee(opts ...func(*EmployeeFixture)) EmployeeFixture {
	seq := f.nextSeq()

	emp := EmployeeFixture{
		ID:           uuid.New().String(),
		EmployeeCode: fmt.Sprintf("EMP-%04d", seq),
		FirstName:    fmt.Sprintf("Employee%d", seq),
		LastName:     "Test",
		Email:        fmt.Sprintf("employee%d@test.hrcore.dev", seq),
		JobTitle:     "Staff",
		Department:   "General",
		HireDate:     time.Now().AddDate(-1, 0, 0),
		Status:       "active",
		CreatedAt:    time.Now(),
	}

	for _, opt := range opts {
		opt(&emp)
	}

	return emp
}

// WithEmployeeName sets the employee's first and last name
func WithEmployeeName(first, last string) func(*EmployeeFixture) {
	return func(e *EmployeeFixture) {
		e.FirstName = first
		e.LastName = last
	}
}

// WithJobTitle sets the employee's job title
func WithJobTitle(title string) func(*EmployeeFixture) {
	return func(e *EmployeeFixture) {
		e.JobTitle = title
	}
}

// WithDepartment sets the employee's department
func WithDepartment(department string) func(*EmployeeFixture) {
	return func(e *EmployeeFixture) {
		e.Department = department
	}
}

// WithEmployeeStatus sets the employee's status
func WithEmployeeStatus(status string) func(*EmployeeFixture) {
	return func(e *EmployeeFixture) {
		e.Status = status
	}
}

// WithManager sets the employee's manager
func WithManager(managerID string) func(*EmployeeFixture) {
	return func(e *EmployeeFixture) {
		e.ManagerID = &managerID
	}
}

// LeaveType creates a leave type fixture with defaults
func (f *FixtureFactory) LeaveType(opts ...func(*LeaveTypeFixture)) LeaveTypeFixture {
	seq := f.nextSeq()

	lt := LeaveTypeFixture{
		ID:               uuid.New().String(),
		Code:             fmt.Sprintf("LT-%04d", seq),
		Name:             "Vacation",
		Paid:             true,
		RequiresApproval: true,
	}

	for _, opt := range opts {
		opt(&lt)
	}

	return lt
}

// LeaveBalance creates a leave balance fixture with defaults
func (f *FixtureFactory) LeaveBalance(employeeID, leaveTypeID string, opts ...func(*LeaveBalanceFixture)) LeaveBalanceFixture {
	lb := LeaveBalanceFixture{
		ID:          uuid.New().String(),
		EmployeeID:  employeeID,
		LeaveTypeID: leaveTypeID,
		Year:        time.Now().Year(),
		Allocated:   20,
	}

	for _, opt := range opts {
		opt(&lb)
	}

	return lb
}

// AttendanceRecord creates an attendance record fixture with defaults
func (f *FixtureFactory) AttendanceRecord(employeeID string, opts ...func(*AttendanceRecordFixture)) AttendanceRecordFixture {
	now := time.Now()
	ar := AttendanceRecordFixture{
		ID:             uuid.New().String(),
		EmployeeID:     employeeID,
		WorkDate:       time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		CheckIn:        time.Date(now.Year(), now.Month(), now.Day(), 9, 0, 0, 0, time.UTC),
		ScheduledHours: 8,
		Status:         "open",
	}

	for _, opt := range opts {
		opt(&ar)
	}

	return ar
}

// PayrollRun creates a payroll run fixture with defaults
func (f *FixtureFactory) PayrollRun(opts ...func(*PayrollRunFixture)) PayrollRunFixture {
	now := time.Now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	pr := PayrollRunFixture{
		ID:          uuid.New().String(),
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 1, -1),
		Status:      "draft",
	}

	for _, opt := range opts {
		opt(&pr)
	}

	return pr
}

// WorkflowDefinition creates a workflow definition fixture with defaults
func (f *FixtureFactory) WorkflowDefinition(opts ...func(*WorkflowDefinitionFixture)) WorkflowDefinitionFixture {
	seq := f.nextSeq()

	wd := WorkflowDefinitionFixture{
		ID:          uuid.New().String(),
		Code:        fmt.Sprintf("wf-%04d", seq),
		Version:     1,
		Name:        "Leave Approval",
		SubjectType: "leave_request",
	}

	for _, opt := range opts {
		opt(&wd)
	}

	return wd
}

// DefaultTestEmployees returns a set of standard test employees
func DefaultTestEmployees(factory *FixtureFactory) []EmployeeFixture {
	manager := factory.Employee(WithEmployeeName("Maria", "Lopez"), WithJobTitle("Engineering Manager"))
	report := factory.Employee(WithEmployeeName("Sam", "Chen"), WithManager(manager.ID))
	return []EmployeeFixture{
		manager,
		report,
		factory.Employee(WithEmployeeName("Priya", "Patel"), WithEmployeeStatus("on_leave")),
	}
}

// DefaultTestLeaveTypes returns standard test leave types
func DefaultTestLeaveTypes() []LeaveTypeFixture {
	return []LeaveTypeFixture{
		{ID: uuid.New().String(), Code: "vacation", Name: "Vacation", Paid: true, RequiresApproval: true},
		{ID: uuid.New().String(), Code: "sick", Name: "Sick Leave", Paid: true, RequiresApproval: false},
		{ID: uuid.New().String(), Code: "unpaid", Name: "Unpaid Leave", Paid: false, RequiresApproval: true},
	}
}
